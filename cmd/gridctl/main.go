package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/devrev/pairdb/gridcache/pkg/client"
	"go.uber.org/zap"
)

const usage = `usage: gridctl [flags] <command> [args]

commands:
  ping                     round-trip to the proxy
  get <cache> <key>        print the value of key
  put <cache> <key> <json> store a value; plain text is stored as a string
  remove <cache> <key>     remove key and print the old value
  size <cache>             print the number of entries
  keys <cache>             print every key
  entries <cache>          print every entry
  clear <cache>            remove every entry
  truncate <cache>         remove every entry without events
  destroy <cache>          destroy the cache on every member
  watch <cache>            print entry events until interrupted

flags:
`

func main() {
	fs := flag.NewFlagSet("gridctl", flag.ExitOnError)
	address := fs.String("address", envOr("GRID_ADDRESS", "localhost:1408"), "proxy address")
	scope := fs.String("scope", "", "cache scope")
	format := fs.String("format", "json", "serialization format (json or msgpack)")
	ttl := fs.Duration("ttl", 0, "expiry for put; 0 never expires")
	timeout := fs.Duration("timeout", 10*time.Second, "request timeout")
	verbose := fs.Bool("v", false, "log client activity")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])
	args := fs.Args()
	if len(args) == 0 {
		fs.Usage()
		os.Exit(2)
	}

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := client.NewSession(ctx,
		client.WithAddress(*address),
		client.WithScope(*scope),
		client.WithFormat(*format),
		client.WithClientID("gridctl"),
		client.WithRequestTimeout(*timeout),
		client.WithLogger(logger))
	if err != nil {
		fail(err)
	}
	defer session.Close()

	if err := run(ctx, session, args, *ttl); err != nil {
		fail(err)
	}
}

func run(ctx context.Context, session *client.Session, args []string, ttl time.Duration) error {
	cmd, args := args[0], args[1:]
	if cmd == "ping" {
		t, err := session.Ping(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s session=%s server_time=%s\n", session.Endpoint(), session.ServerSessionID(), t.Format(time.RFC3339Nano))
		return nil
	}

	want := map[string]int{
		"get": 2, "put": 3, "remove": 2, "size": 1, "keys": 1, "entries": 1,
		"clear": 1, "truncate": 1, "destroy": 1, "watch": 1,
	}
	n, ok := want[cmd]
	if !ok {
		return fmt.Errorf("unknown command %q", cmd)
	}
	if len(args) != n {
		return fmt.Errorf("%s takes %d argument(s)", cmd, n)
	}

	cache, err := client.GetNamedCache[string, any](ctx, session, args[0])
	if err != nil {
		return err
	}

	switch cmd {
	case "get":
		v, err := cache.Get(ctx, args[1])
		if err != nil {
			return err
		}
		printValue(v)
	case "put":
		old, err := cache.PutWithExpiry(ctx, args[1], parseValue(args[2]), ttl)
		if err != nil {
			return err
		}
		printValue(old)
	case "remove":
		old, err := cache.Remove(ctx, args[1])
		if err != nil {
			return err
		}
		printValue(old)
	case "size":
		size, err := cache.Size(ctx)
		if err != nil {
			return err
		}
		fmt.Println(size)
	case "keys":
		keys, err := cache.KeySet(ctx)
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Println(k)
		}
	case "entries":
		entries, err := cache.EntrySet(ctx)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s\t%s\n", e.Key, render(e.Value))
		}
	case "clear":
		return cache.Clear(ctx)
	case "truncate":
		return cache.Truncate(ctx)
	case "destroy":
		return cache.Destroy(ctx)
	case "watch":
		return watch(ctx, cache)
	}
	return nil
}

func watch(ctx context.Context, cache *client.NamedCache[string, any]) error {
	l := client.NewMapListener[string, any]().OnAny(func(e client.MapEvent[string, any]) {
		line := fmt.Sprintf("%s %s %s", time.Now().Format(time.RFC3339), e.Type, e.Key)
		if e.NewValue != nil {
			line += " " + render(*e.NewValue)
		}
		fmt.Println(line)
	})
	if err := cache.AddListener(ctx, l); err != nil {
		return err
	}
	<-ctx.Done()
	rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cache.RemoveListener(rctx, l); err != nil && !errors.Is(err, client.ErrClosed) {
		return err
	}
	return nil
}

// parseValue reads s as JSON, or as a plain string when it is not JSON.
// Whole numbers become int64.
func parseValue(s string) any {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return s
	}
	return numbers(v)
}

func numbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i := range t {
			t[i] = numbers(t[i])
		}
	case map[string]any:
		for k := range t {
			t[k] = numbers(t[k])
		}
	}
	return v
}

func printValue(v *any) {
	if v == nil {
		fmt.Println("<absent>")
		return
	}
	fmt.Println(render(*v))
}

func render(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "gridctl:", err)
	os.Exit(1)
}
