// Command fabricquery issues a single DNS query through the resolver
// package and prints the parsed response, for manual testing of
// upstream connectivity without standing up the full fabric.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jroosing/netfabric/internal/dns"
	"github.com/jroosing/netfabric/internal/resolver"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fabricquery error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		server  = flag.String("server", "8.8.8.8", "DNS server IP")
		name    = flag.String("name", "example.com", "Query name")
		qtype   = flag.String("type", "A", "Query type: A, AAAA, CNAME, MX, NS, TXT, SOA, SRV, PTR")
		timeout = flag.Duration("timeout", 3*time.Second, "Per-attempt timeout")
		retries = flag.Int("retries", 2, "Retries per server")
		useTCP  = flag.Bool("tcp", false, "Query over TCP instead of UDP")
		quiet   = flag.Bool("quiet", false, "Suppress output (exit status indicates success)")
	)
	flag.Parse()

	rt, err := parseType(*qtype)
	if err != nil {
		return err
	}

	r, err := resolver.New(resolver.Config{
		Servers: []string{*server},
		UseUDP:  !*useTCP,
		UseTCP:  *useTCP,
		Timeout: *timeout,
		Retries: *retries,
		Logger:  slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	})
	if err != nil {
		return fmt.Errorf("build resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout*time.Duration(*retries+1))
	defer cancel()

	resp, err := r.Resolve(ctx, *name, rt)
	if err != nil {
		if *quiet {
			os.Exit(1)
		}
		return err
	}
	if *quiet {
		return nil
	}

	fmt.Printf("id=%d rcode=%d answers=%d authorities=%d additionals=%d\n",
		resp.Header.ID, resp.RCode(), len(resp.Answers), len(resp.Authorities), len(resp.Additionals))

	rows := make([]string, 0, len(resp.Answers))
	for _, rr := range resp.Answers {
		rows = append(rows, formatRR(rr))
	}
	sort.Strings(rows)
	for _, row := range rows {
		fmt.Println(row)
	}
	return nil
}

func parseType(s string) (dns.RecordType, error) {
	switch strings.ToUpper(s) {
	case "A":
		return dns.TypeA, nil
	case "AAAA":
		return dns.TypeAAAA, nil
	case "CNAME":
		return dns.TypeCNAME, nil
	case "MX":
		return dns.TypeMX, nil
	case "NS":
		return dns.TypeNS, nil
	case "TXT":
		return dns.TypeTXT, nil
	case "SOA":
		return dns.TypeSOA, nil
	case "SRV":
		return dns.TypeSRV, nil
	case "PTR":
		return dns.TypePTR, nil
	default:
		return 0, fmt.Errorf("unknown query type %q", s)
	}
}

func formatRR(rr dns.Record) string {
	name := rr.Name
	if name == "" {
		name = "."
	}
	switch dns.RecordType(rr.Type) {
	case dns.TypeA:
		if ip, ok := rr.IPv4(); ok {
			return fmt.Sprintf("%s %d IN A %s", name, rr.TTL, ip)
		}
	case dns.TypeAAAA:
		if ip, ok := rr.IPv6(); ok {
			return fmt.Sprintf("%s %d IN AAAA %s", name, rr.TTL, ip)
		}
	case dns.TypeCNAME, dns.TypeNS, dns.TypePTR:
		if s, ok := rr.Data.(string); ok {
			return fmt.Sprintf("%s %d IN %s", name, rr.TTL, s)
		}
	case dns.TypeMX:
		if mx, ok := rr.Data.(dns.MXData); ok {
			return fmt.Sprintf("%s %d IN MX %d %s", name, rr.TTL, mx.Preference, mx.Exchange)
		}
	}
	return fmt.Sprintf("%s %d IN TYPE%d (unparsed)", name, rr.TTL, rr.Type)
}
