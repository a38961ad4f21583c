package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	FailEvery   int `long:"fail-every" description:"answer FAIL to every Nth event (debug feature)"`
	ProcessTime int `long:"process-time-ms" description:"Milliseconds spent handling each event (debug feature)"`
	MaxEvents   int `long:"max-events" description:"Exit after this many events (debug feature)"`
}

// Stdout carries the listener protocol, so all diagnostics go to stderr.
func logf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		logf("Command line flags parsing failed: %v", err)
		os.Exit(1)
	}

	logf("Running Listenertest, opts: %+v...", opts)

	in := bufio.NewReader(os.Stdin)
	out := bufio.NewWriter(os.Stdout)

	for count := 1; opts.MaxEvents <= 0 || count <= opts.MaxEvents; count++ {
		if err := send(out, "READY\n"); err != nil {
			logf("Listenertest failed to write READY: %v", err)
			os.Exit(1)
		}

		header, payload, err := readEvent(in)
		if err == io.EOF {
			logf("Listenertest stdin closed")
			return
		}
		if err != nil {
			logf("Listenertest failed to read event: %v", err)
			os.Exit(1)
		}
		logf("Listenertest received event %d: %s", count, header["eventname"])
		logf("Listenertest payload: %s", payload)

		if opts.ProcessTime > 0 {
			time.Sleep(time.Duration(opts.ProcessTime) * time.Millisecond)
		}

		result := "OK"
		if opts.FailEvery > 0 && count%opts.FailEvery == 0 {
			result = "FAIL"
		}
		if err := send(out, fmt.Sprintf("RESULT %d\n%s", len(result), result)); err != nil {
			logf("Listenertest failed to write RESULT: %v", err)
			os.Exit(1)
		}
	}

	logf("Listenertest stopped")
}

func send(out *bufio.Writer, s string) error {
	if _, err := out.WriteString(s); err != nil {
		return err
	}
	return out.Flush()
}

// readEvent reads one "key:value ..." header line and the len-byte payload.
func readEvent(in *bufio.Reader) (map[string]string, string, error) {
	line, err := in.ReadString('\n')
	if err != nil {
		if line == "" {
			return nil, "", io.EOF
		}
		return nil, "", err
	}

	header := make(map[string]string)
	for _, field := range strings.Fields(line) {
		key, value, ok := strings.Cut(field, ":")
		if ok {
			header[key] = value
		}
	}

	n, err := strconv.Atoi(header["len"])
	if err != nil || n < 0 {
		return nil, "", fmt.Errorf("invalid header %q", strings.TrimSpace(line))
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(in, payload); err != nil {
		return nil, "", err
	}
	return header, string(payload), nil
}
