package main

import (
	"AnpdServer/client"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"
)

func main() {
	server := flag.String("server", "http://127.0.0.1:8080", "AnpdServer base URL")
	out := flag.String("out", "downloads", "directory for processed images, empty to skip")
	asJSON := flag.Bool("json", false, "print detections as JSON")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: anpdctl [flags] image.jpg [image.png ...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	c := client.New(*server)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "server not reachable:", err)
		os.Exit(1)
	}

	failed := 0
	for _, path := range flag.Args() {
		res, err := c.Detect(ctx, path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed++
			continue
		}
		if *asJSON {
			b, _ := json.Marshal(map[string]any{"file": path, "detections": res.Detections})
			fmt.Println(string(b))
		} else {
			fmt.Printf("%s: %d plate(s)\n", path, len(res.Detections))
			for _, d := range res.Detections {
				fmt.Printf("  %-8s %.2f  [%.0f,%.0f %.0f,%.0f] %s\n",
					d.Class, d.Conf, d.Box.LT.X, d.Box.LT.Y, d.Box.RB.X, d.Box.RB.Y, d.Text)
			}
		}
		if *out != "" {
			saved, err := res.Save(*out)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: save: %v\n", path, err)
				failed++
				continue
			}
			if !*asJSON {
				fmt.Println("  saved", saved)
			}
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}
