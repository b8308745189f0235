// Command kv-server runs a cache node: it owns the pinned memory pool,
// the transport, and the cache index, and serves GET/PUT/DELETE over a
// TCP control-plane listener.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/nvbkdw/kv-rdma-poc/server"
	"github.com/nvbkdw/kv-rdma-poc/serverconf"
)

func main() {
	nodeID := flag.Uint("node-id", 1, "This server's node identifier")
	listenAddr := flag.String("listen-addr", ":7070", "Control-plane listen address (host:port)")
	memoryMB := flag.Uint("memory-mb", 16, "Pinned memory pool size in MiB")
	numDomains := flag.Int("num-domains", 1, "Number of transport domains (NICs) to expose")
	mock := flag.Bool("mock", true, "Use the in-process mock transport instead of a real fabric driver")
	workerThreads := flag.Uint("worker-threads", uint(serverconf.DefaultWorkerThreads), "Fixed worker pool size for request handling")

	flag.Usage = printUsage
	flag.Parse()

	if !*mock {
		log.Fatalf("Error: only -mock=true is supported; no real fabric driver is registered")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Error: failed to build logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv, err := server.New(ctx,
		serverconf.WithNodeID(uint32(*nodeID)),
		serverconf.WithMemoryBytes(uint64(*memoryMB)<<20),
		serverconf.WithNumDomains(*numDomains),
		serverconf.WithTransportDriver("mock"),
		serverconf.WithWorkerThreads(int(*workerThreads)),
		serverconf.WithLogger(sugar),
	)
	if err != nil {
		log.Fatalf("Error: failed to start server core: %v", err)
	}

	l, err := srv.Listen(*listenAddr)
	if err != nil {
		log.Fatalf("Error: failed to bind %s: %v", *listenAddr, err)
	}

	sugar.Infow("listening", "addr", l.Addr().String())

	<-ctx.Done()
	sugar.Info("shutting down")
	_ = l.Close()
	_ = srv.Close()
}

func printUsage() {
	fmt.Println("kv-server - distributed in-memory key/value cache node")
	fmt.Println("Usage:")
	fmt.Println("  kv-server [-node-id N] [-listen-addr host:port] [-memory-mb N] [-num-domains N] [-mock] [-worker-threads N]")
}
