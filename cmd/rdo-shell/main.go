// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command rdo-shell is an interactive prompt for the rdo-daq control
// socket: it triggers recordings and inspects pipeline counters.
package main // import "github.com/go-daq/readout/cmd/rdo-shell"

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/peterh/liner"
)

func main() {
	log.SetPrefix("rdo-shell: ")
	log.SetFlags(0)

	addr := flag.String("addr", "localhost:8877", "rdo-daq control socket address")
	flag.Parse()

	err := repl(*addr)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func repl(addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("could not dial %q: %w", addr, err)
	}
	defer conn.Close()

	term := liner.NewLiner()
	defer term.Close()
	term.SetCtrlCAborts(true)

	term.SetCompleter(func(line string) []string {
		var out []string
		for _, cmd := range []string{"record ", "status", "help", "quit"} {
			if strings.HasPrefix(cmd, strings.ToLower(line)) {
				out = append(out, cmd)
			}
		}
		return out
	})

	for {
		line, err := term.Prompt("rdo> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Fprintln(os.Stdout)
				return nil
			}
			return fmt.Errorf("could not read prompt: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		words := strings.Fields(line)
		switch words[0] {
		case "quit", "exit":
			return nil

		case "help":
			fmt.Println(`commands:
  record <seconds>  -- record frames crossing the latency buffer
  status            -- display the pipeline counters
  quit              -- leave the shell`)

		case "record":
			if len(words) != 2 {
				log.Printf("usage: record <seconds>")
				continue
			}
			sec, err := strconv.Atoi(words[1])
			if err != nil {
				log.Printf("invalid duration %q: %+v", words[1], err)
				continue
			}
			err = send(conn, "record", map[string]int{"duration": sec})
			if err != nil {
				log.Printf("could not record: %+v", err)
				continue
			}

		case "status":
			err = status(conn)
			if err != nil {
				log.Printf("could not fetch status: %+v", err)
				continue
			}

		default:
			log.Printf("unknown command %q (try \"help\")", words[0])
		}
	}
}

func send(conn net.Conn, name string, args any) error {
	req := struct {
		Name string `json:"name"`
		Args any    `json:"args,omitempty"`
	}{name, args}

	err := json.NewEncoder(conn).Encode(req)
	if err != nil {
		return fmt.Errorf("could not send %q command: %w", name, err)
	}

	var rep struct {
		Msg string `json:"msg"`
	}
	err = json.NewDecoder(conn).Decode(&rep)
	if err != nil {
		return fmt.Errorf("could not decode %q reply: %w", name, err)
	}
	if rep.Msg != "ok" {
		return fmt.Errorf("%s", rep.Msg)
	}
	fmt.Println("ok")
	return nil
}

func status(conn net.Conn) error {
	req := struct {
		Name string `json:"name"`
	}{"status"}

	err := json.NewEncoder(conn).Encode(req)
	if err != nil {
		return fmt.Errorf("could not send status command: %w", err)
	}

	var stats map[string]any
	err = json.NewDecoder(conn).Decode(&stats)
	if err != nil {
		return fmt.Errorf("could not decode status reply: %w", err)
	}
	if msg, ok := stats["msg"]; ok {
		return fmt.Errorf("%v", msg)
	}
	for _, k := range sortedKeys(stats) {
		fmt.Printf("%-22s %v\n", k, stats[k])
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
