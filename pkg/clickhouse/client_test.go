package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

func TestClientConfigOptions(t *testing.T) {
	cfg := defaultConfig()
	for _, opt := range []ClientOption{
		WithHost("ch", 0),
		WithDatabase("signalloop"),
		WithCredentials("u", "p@ss"),
		WithTimeouts(0, 3*time.Second),
	} {
		opt(&cfg)
	}
	opts := cfg.Options()
	if len(opts.Addr) != 1 || opts.Addr[0] != "ch:9000" {
		t.Fatalf("unexpected addr %v", opts.Addr)
	}
	if opts.Auth.Database != "signalloop" || opts.Auth.Username != "u" || opts.Auth.Password != "p@ss" {
		t.Fatalf("unexpected auth %+v", opts.Auth)
	}
	if opts.DialTimeout != 5*time.Second || opts.ReadTimeout != 3*time.Second {
		t.Fatalf("unexpected timeouts %v %v", opts.DialTimeout, opts.ReadTimeout)
	}
	if opts.Protocol != clickhouse.Native || opts.Compression == nil || opts.Compression.Method != clickhouse.CompressionLZ4 {
		t.Fatalf("expected native protocol with lz4")
	}
	if opts.Settings != nil {
		t.Fatalf("expected no settings without async insert, got %v", opts.Settings)
	}
}

func TestClientConfigHTTPAsync(t *testing.T) {
	cfg := defaultConfig()
	WithHost("ch", 8123)(&cfg)
	WithHTTP(true)(&cfg)
	WithAsyncInsert(true)(&cfg)

	opts := cfg.Options()
	if opts.Protocol != clickhouse.HTTP || opts.Compression != nil {
		t.Fatalf("expected plain http, got protocol %v compression %v", opts.Protocol, opts.Compression)
	}
	if opts.Settings["async_insert"] != 1 || opts.Settings["wait_for_async_insert"] != 1 {
		t.Fatalf("unexpected settings %v", opts.Settings)
	}
}

func TestNewClientRequiresHost(t *testing.T) {
	if _, err := NewClient(context.Background()); err == nil {
		t.Fatalf("expected error without host")
	}
}
