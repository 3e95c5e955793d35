// nanodns-update sends a signed dynamic update to a nanodns server and
// prints the reply. Intended for cron jobs and DHCP hooks, so it stays a
// single round trip with an exit code scripts can branch on.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/nanodns/nanodns/internal/dns/domain"
	"github.com/nanodns/nanodns/internal/dns/services/update"
)

const version = "0.1.0-dev"

type options struct {
	server  string
	keyID   string
	secret  string
	op      string
	host    string
	rrtype  string
	value   string
	ttl     uint
	timeout time.Duration
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if err == flag.ErrHelp {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	out, err := run(opts, time.Now())
	if out != "" {
		fmt.Println(out)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseFlags(args []string, errOut *os.File) (options, error) {
	var opts options
	fs := flag.NewFlagSet("nanodns-update", flag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.StringVar(&opts.server, "server", "127.0.0.1:53", "server address (ip:port)")
	fs.StringVar(&opts.keyID, "key", "", "credential id")
	fs.StringVar(&opts.secret, "secret", "", "shared secret (or set NANODNS_SECRET)")
	fs.StringVar(&opts.op, "op", "set", "operation: set or del")
	fs.StringVar(&opts.host, "host", "", "record name to update")
	fs.StringVar(&opts.rrtype, "type", "A", "record type, e.g. A, AAAA, CNAME, TXT")
	fs.StringVar(&opts.value, "value", "0.0.0.0", "record value; 0.0.0.0 means the address this request arrives from")
	fs.UintVar(&opts.ttl, "ttl", 0, "lease TTL in seconds; 0 uses the server default")
	fs.DurationVar(&opts.timeout, "timeout", 5*time.Second, "reply timeout")
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if *showVersion {
		fmt.Println("nanodns-update " + version)
		os.Exit(0)
	}

	if opts.secret == "" {
		opts.secret = os.Getenv("NANODNS_SECRET")
	}
	if opts.keyID == "" {
		return opts, fmt.Errorf("missing -key")
	}
	if opts.secret == "" {
		return opts, fmt.Errorf("missing -secret (or NANODNS_SECRET)")
	}
	if opts.host == "" {
		return opts, fmt.Errorf("missing -host")
	}
	return opts, nil
}

func run(opts options, now time.Time) (string, error) {
	rrtype := domain.RRTypeFromString(opts.rrtype)
	if !rrtype.IsValid() || rrtype == domain.RRTypeANY {
		return "", fmt.Errorf("invalid -type %q", opts.rrtype)
	}

	op := strings.ToLower(opts.op)
	if op != domain.UpdateOpSet && op != domain.UpdateOpDel {
		return "", fmt.Errorf("invalid -op %q: must be set or del", opts.op)
	}

	value := opts.value
	if op == domain.UpdateOpDel {
		value = "-"
	}

	req := domain.UpdateRequest{
		KeyID:     opts.keyID,
		Op:        op,
		Timestamp: now.Unix(),
		Host:      opts.host,
		Type:      rrtype,
		Value:     value,
		TTL:       uint32(opts.ttl),
	}

	conn, err := net.Dial("udp", opts.server)
	if err != nil {
		return "", fmt.Errorf("cannot reach %s: %w", opts.server, err)
	}
	defer conn.Close()

	if _, err := conn.Write(update.EncodeRequest(opts.secret, req)); err != nil {
		return "", fmt.Errorf("send failed: %w", err)
	}

	if err := conn.SetReadDeadline(now.Add(opts.timeout)); err != nil {
		return "", err
	}
	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	if err != nil {
		return "", fmt.Errorf("no reply from %s: %w", opts.server, err)
	}

	reply := buf[:n]
	ok, fields, err := update.ParseResponse(reply)
	if err != nil {
		return "", fmt.Errorf("unparseable reply %q: %w", string(reply), err)
	}
	if !ok {
		return "", fmt.Errorf("server refused: %s", strings.Join(fields, " "))
	}
	return fmt.Sprintf("ok %s", strings.Join(fields, " ")), nil
}
