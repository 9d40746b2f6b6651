package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/arthurzhang/silkstore/internal/metrics"
	"github.com/arthurzhang/silkstore/pkg/silkstore"
)

var configPath = flag.String("config", "", "Path to an ini config file")

func main() {
	flag.Parse()

	cfg := metrics.DefaultConfig()
	if *configPath != "" {
		loaded, err := metrics.LoadConfig(*configPath)
		if err != nil {
			fmt.Println("Error loading config:", err)
			return
		}
		cfg = loaded
	}

	store, err := silkstore.Open(cfg)
	if err != nil {
		fmt.Println("Error opening store:", err)
		return
	}
	defer store.Close()

	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Print("silkstore> ")

		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		parts := strings.Fields(strings.TrimSpace(line))
		if len(parts) == 0 {
			continue
		}

		switch strings.ToUpper(parts[0]) {
		case "PUT":
			if len(parts) != 3 {
				fmt.Println("Usage: PUT <key> <value>")
				continue
			}
			if err := store.Put([]byte(parts[1]), []byte(parts[2])); err != nil {
				fmt.Println("Error:", err)
			}
		case "GET":
			if len(parts) != 2 {
				fmt.Println("Usage: GET <key>")
				continue
			}
			val, ok, err := store.Get([]byte(parts[1]))
			switch {
			case err != nil:
				fmt.Println("Error:", err)
			case !ok:
				fmt.Println("(nil)")
			default:
				fmt.Println(string(val))
			}
		case "DEL":
			if len(parts) != 2 {
				fmt.Println("Usage: DEL <key>")
				continue
			}
			if err := store.Delete([]byte(parts[1])); err != nil {
				fmt.Println("Error:", err)
			}
		case "INFO":
			fmt.Println(store.Info())
		case "EXIT":
			fmt.Println("Bye!")
			return
		default:
			fmt.Println("Commands: PUT, GET, DEL, INFO, EXIT")
		}
	}
}
