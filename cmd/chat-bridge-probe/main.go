package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"aim-chat/go-client/internal/binding"
	"aim-chat/go-client/internal/clientconfig"
	"aim-chat/go-client/internal/composition/viewclient"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	daemonAddr := flag.String("daemon-addr", "", "daemon JSON-RPC address (default 127.0.0.1:8787)")
	configPath := flag.String("config", "", "path to client.yaml (optional)")
	rpcToken := flag.String("rpc-token", "", "RPC token for X-AIM-RPC-Token (optional)")
	callMethod := flag.String("call", "health_check", "JSON-RPC method to invoke once")
	callParams := flag.String("params", "", "JSON params for --call (optional)")
	topics := flag.String("topics", "", "comma-separated topics to tail (optional)")
	flag.Parse()
	if *showVersion {
		fmt.Printf("chat-bridge-probe version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := clientconfig.LoadFromPath(*configPath)
	if *daemonAddr != "" {
		cfg.DaemonAddr = *daemonAddr
	}
	if *rpcToken != "" {
		cfg.RPCToken = *rpcToken
	}

	client, err := viewclient.New(cfg, prometheus.NewRegistry())
	if err != nil {
		log.Fatalf("chat-bridge-probe failed to initialize: %v", err)
	}
	defer func() { _ = client.Close() }()

	var params any
	if *callParams != "" {
		if err := json.Unmarshal([]byte(*callParams), &params); err != nil {
			log.Fatalf("--params is not valid JSON: %v", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	result, err := client.RPC.Call(callCtx, *callMethod, params)
	cancel()
	if err != nil {
		log.Fatalf("call %s failed: %v", *callMethod, err)
	}
	fmt.Printf("%s => %s\n", *callMethod, string(result))

	if strings.TrimSpace(*topics) == "" {
		return
	}

	for _, topic := range strings.Split(*topics, ",") {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			continue
		}
		binding.Bind(ctx, client.Mux, topic, printEvent(topic))
		fmt.Fprintf(os.Stderr, "tailing %s\n", topic)
	}

	<-ctx.Done()
	log.Println("chat-bridge-probe stopped")
}

func printEvent(topic string) func(json.RawMessage) {
	return func(payload json.RawMessage) {
		fmt.Printf("[%s] %s %s\n", time.Now().Format(time.RFC3339), topic, string(payload))
	}
}
