// Command kv-client is a thin CLI over the client core: it supports a
// one-shot get/put/delete and an interactive REPL.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/nvbkdw/kv-rdma-poc/client"
	"github.com/nvbkdw/kv-rdma-poc/clientconf"
	"github.com/nvbkdw/kv-rdma-poc/kverrors"
)

func main() {
	clientID := flag.Uint("client-id", 1, "This client's identifier")
	serverAddr := flag.String("server-addr", "127.0.0.1:7070", "Server control-plane address (host:port)")
	bufferMB := flag.Uint("buffer-mb", 1, "Receive pool size in MiB")
	mock := flag.Bool("mock", true, "Use the in-process mock transport instead of a real fabric driver")

	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	if !*mock {
		log.Fatalf("Error: only -mock=true is supported; no real fabric driver is registered")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Error: failed to build logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	c, err := client.New(
		clientconf.WithClientID(uint32(*clientID)),
		clientconf.WithReceiveBufferBytes(uint64(*bufferMB)<<20),
		clientconf.WithTransportDriver("mock"),
		clientconf.WithLogger(sugar),
	)
	if err != nil {
		log.Fatalf("Error: failed to start client core: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), clientconf.DefaultConnectTimeout)
	defer cancel()
	if err := c.Connect(ctx, *serverAddr); err != nil {
		log.Fatalf("Error: failed to connect to %s: %v", *serverAddr, err)
	}

	switch args[0] {
	case "get":
		runGet(c, args[1:])
	case "put":
		runPut(c, args[1:])
	case "delete":
		runDelete(c, args[1:])
	case "repl":
		runREPL(c)
	default:
		printUsage()
		os.Exit(2)
	}
}

func runGet(c *client.Client, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Error: get requires exactly one KEY argument")
		os.Exit(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), clientconf.DefaultRequestTimeout)
	defer cancel()
	value, err := c.Get(ctx, []byte(args[0]))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(value))
}

func runPut(c *client.Client, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "Error: put requires KEY and VALUE arguments")
		os.Exit(1)
	}
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	ttl := fs.Duration("ttl", 0, "Time-to-live; 0 means never expires")
	_ = fs.Parse(args[2:])
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "Error: put requires KEY and VALUE arguments")
		os.Exit(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), clientconf.DefaultRequestTimeout)
	defer cancel()
	if err := c.Put(ctx, []byte(args[0]), []byte(args[1]), uint64(ttl.Seconds())); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runDelete(c *client.Client, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Error: delete requires exactly one KEY argument")
		os.Exit(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), clientconf.DefaultRequestTimeout)
	defer cancel()
	existed, err := c.Delete(ctx, []byte(args[0]))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("key_existed=%v\n", existed)
}

// runREPL implements the interactive mode: unlike the one-shot commands, a
// failed operation prints its error and continues rather than exiting.
func runREPL(c *client.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("kv-client REPL. Commands: get KEY | put KEY VALUE [ttl_seconds] | delete KEY | quit")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), clientconf.DefaultRequestTimeout)

		switch fields[0] {
		case "quit", "exit":
			cancel()
			return

		case "get":
			if len(fields) != 2 {
				fmt.Println("Error: usage: get KEY")
				break
			}
			value, err := c.Get(ctx, []byte(fields[1]))
			if err != nil {
				fmt.Printf("Error: %v\n", err)
			} else {
				fmt.Println(string(value))
			}

		case "put":
			if len(fields) < 3 {
				fmt.Println("Error: usage: put KEY VALUE [ttl_seconds]")
				break
			}
			var ttl uint64
			if len(fields) >= 4 {
				if n, err := strconv.ParseUint(fields[3], 10, 64); err == nil {
					ttl = n
				}
			}
			if err := c.Put(ctx, []byte(fields[1]), []byte(fields[2]), ttl); err != nil {
				fmt.Printf("Error: %v\n", err)
			}

		case "delete":
			if len(fields) != 2 {
				fmt.Println("Error: usage: delete KEY")
				break
			}
			existed, err := c.Delete(ctx, []byte(fields[1]))
			if err != nil {
				fmt.Printf("Error: %v\n", err)
			} else {
				fmt.Printf("key_existed=%v\n", existed)
			}

		default:
			fmt.Printf("Error: %v: unknown command %q\n", kverrors.ErrInvalidArgument, fields[0])
		}

		cancel()
	}
}

func printUsage() {
	fmt.Println("kv-client - distributed in-memory key/value cache client")
	fmt.Println("Usage:")
	fmt.Println("  kv-client [-client-id N] [-server-addr host:port] [-buffer-mb N] get KEY")
	fmt.Println("  kv-client [-client-id N] [-server-addr host:port] [-buffer-mb N] put KEY VALUE [--ttl DURATION]")
	fmt.Println("  kv-client [-client-id N] [-server-addr host:port] [-buffer-mb N] delete KEY")
	fmt.Println("  kv-client [-client-id N] [-server-addr host:port] [-buffer-mb N] repl")
}
