// Command gen-burstlog generates synthetic burst log fixtures for the
// replay device.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/banshee-data/camstream/internal/capture"
)

// syntheticFrame builds a JPEG-framed payload. Payload bytes stay below
// 0xFF so no marker sequences appear inside the frame body.
func syntheticFrame(index, size int) []byte {
	frame := make([]byte, 0, size+4)
	frame = append(frame, 0xFF, 0xD8)
	for i := 0; i < size; i++ {
		frame = append(frame, byte((index*31+i)%0xFF))
	}
	frame = append(frame, 0xFF, 0xD9)
	return frame
}

func main() {
	output := flag.String("o", "camera.burstlog", "output path")
	bursts := flag.Int("n", 100, "number of bursts")
	framesPerBurst := flag.Int("frames-per-burst", 3, "frames in each burst")
	frameSize := flag.Int("frame-size", 4096, "payload bytes per frame")
	chunkSize := flag.Int("chunk", 512, "recorded chunk size")
	flag.Parse()

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("create %s: %v", *output, err)
	}
	defer f.Close()

	w, err := capture.NewBurstLogWriter(f)
	if err != nil {
		log.Fatalf("write burst log header: %v", err)
	}

	frame := 0
	for b := 0; b < *bursts; b++ {
		for n := 0; n < *framesPerBurst; n++ {
			data := syntheticFrame(frame, *frameSize)
			frame++
			for off := 0; off < len(data); off += *chunkSize {
				end := off + *chunkSize
				if end > len(data) {
					end = len(data)
				}
				if err := w.Chunk(data[off:end]); err != nil {
					log.Fatalf("write chunk: %v", err)
				}
			}
		}
		if err := w.EndBurst(); err != nil {
			log.Fatalf("write burst end: %v", err)
		}
		if (b+1)%10 == 0 {
			log.Printf("%d/%d bursts", b+1, *bursts)
		}
	}
	log.Printf("✓ Created: %s (%d frames)", *output, frame)
}
