// pilot-client sends one HTTP/1.1 request and prints the response.
//
//	pilot-client [-X METHOD] [-H "Name: value"]... [-d body] [-A agent] [-o file | -O] [-k] URL
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	pilot "github.com/jacksonzamorano/pilot-wire"
)

type headerFlags []string

func (h *headerFlags) String() string     { return strings.Join(*h, ", ") }
func (h *headerFlags) Set(v string) error { *h = append(*h, v); return nil }

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pilot-client:", err)
		os.Exit(1)
	}
}

func run() error {
	var headers headerFlags
	method := flag.String("X", "GET", "request method")
	flag.Var(&headers, "H", "request header \"Name: value\" (repeatable)")
	data := flag.String("d", "", "request body; @file reads it from a file")
	agent := flag.String("A", "pilot-client/1.0", "user agent")
	output := flag.String("o", "", "write the body to this file")
	remoteName := flag.Bool("O", false, "write the body to a file named after the URL")
	insecure := flag.Bool("k", false, "skip TLS certificate verification")
	caFile := flag.String("cacert", "", "trust only this CA for https")
	verbose := flag.Bool("v", false, "print response headers")
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return fmt.Errorf("expected exactly one URL")
	}
	rawURL := flag.Arg(0)
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}

	m, err := pilot.ParseMethod(strings.ToUpper(*method))
	if err != nil {
		return err
	}
	var hdrs pilot.Headers
	for _, h := range headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return fmt.Errorf("bad header %q, want \"Name: value\"", h)
		}
		hdrs.Add(pilot.CanonicalHeaderName(strings.TrimSpace(name)), strings.TrimSpace(value))
	}
	body := []byte(*data)
	if strings.HasPrefix(*data, "@") {
		if body, err = os.ReadFile((*data)[1:]); err != nil {
			return err
		}
	}

	client := pilot.NewClient()
	client.UserAgent = *agent
	if client.TLS, err = pilot.ClientTLSConfig(*caFile, *insecure); err != nil {
		return err
	}

	res, err := client.Do(context.Background(), m, rawURL, hdrs, body)
	if err != nil {
		return err
	}

	fmt.Printf("%s %d %s\n", res.Version, res.StatusCode, reason(res))
	if *verbose {
		for _, h := range res.Headers {
			fmt.Printf("%s: %s\n", h.Name, h.Value)
		}
		fmt.Println()
	}

	var out io.Writer = os.Stdout
	target := *output
	if target == "" && *remoteName {
		if target, err = nameFromURL(rawURL); err != nil {
			return err
		}
	}
	if target != "" {
		f, err := os.Create(target)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	_, err = out.Write(res.Body)
	return err
}

func reason(res *pilot.Response) string {
	if res.Reason != "" {
		return res.Reason
	}
	return res.StatusCode.Reason()
}

func nameFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." || name == "" {
		return "index.html", nil
	}
	return name, nil
}
