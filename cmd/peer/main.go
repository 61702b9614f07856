package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ilnaes/hyperpad/internal/config"
	"github.com/ilnaes/hyperpad/internal/discovery"
	"github.com/ilnaes/hyperpad/internal/editor"
	"github.com/ilnaes/hyperpad/internal/hyper"
	"github.com/ilnaes/hyperpad/internal/session"
	"github.com/ilnaes/hyperpad/internal/store"
	"github.com/ilnaes/hyperpad/internal/transport"
)

// peer joins a document as a headless realtime user, saves it on exit and
// prints the final content as HTML.
func main() {
	envFile := flag.String("env", "", "path to a .env file")
	doc := flag.String("doc", "", "document to edit")
	locale := flag.String("locale", "", "translation of the document")
	input := flag.String("html", "", "html file with the initial content")
	client := flag.String("client", "", "name shown to the other users")
	discover := flag.Duration("discover", 0, "look for a relay on the local network for this long")
	flag.Parse()

	if *doc == "" {
		log.Fatal("missing -doc")
	}

	var files []string
	if *envFile != "" {
		files = append(files, *envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	url := cfg.WSURL
	if *discover > 0 {
		bctx, cancel := context.WithTimeout(ctx, *discover)
		urls, err := discovery.Browse(bctx)
		cancel()
		if err != nil {
			log.Fatal(err)
		}
		if len(urls) == 0 {
			log.Fatal("no relay found")
		}
		url = urls[0]
	}

	root := hyper.NewElement("BODY", nil)
	if *input != "" {
		f, err := os.Open(*input)
		if err != nil {
			log.Fatal(err)
		}
		root, err = hyper.FromHTML(f)
		f.Close()
		if err != nil {
			log.Fatal(err)
		}
	}

	logger := log.New(io.Discard, "", 0)
	if cfg.Debug {
		logger = log.New(log.Writer(), "[Peer] ", log.LstdFlags)
	}

	n, err := transport.Connect(ctx, url, transport.Options{Logger: logger})
	if err != nil {
		log.Fatal(err)
	}
	defer n.Close()

	base := "http" + strings.TrimSuffix(strings.TrimPrefix(url, "ws"), "/ws")
	ed := editor.NewMemory(root)
	c := session.New(session.Config{
		Client:        *client,
		Network:       n,
		Editor:        ed,
		Persistence:   transport.NewPersistence(base, store.Ref{Doc: *doc, Locale: *locale}, nil),
		Logger:        logger,
		SaveInterval:  cfg.SaveInterval,
		CheckInterval: cfg.CheckInterval,
	})
	if err := c.Start(ctx); err != nil {
		log.Fatal(err)
	}

	<-ctx.Done()

	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.SaveAndClose(saveCtx); err != nil {
		log.Printf("save: %v", err)
	}

	if err := hyper.RenderInnerHTML(os.Stdout, ed.ContentWrapper()); err != nil {
		log.Fatal(err)
	}
}
