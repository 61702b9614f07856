package discovery

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/grandcat/zeroconf"
)

const (
	Service = "_hyperpad._tcp"
	Domain  = "local."
)

// Advertise registers a relay listening on port with mDNS. Call the returned
// function to withdraw it.
func Advertise(port int) (func(), error) {
	host, _ := os.Hostname()
	server, err := zeroconf.Register(
		fmt.Sprintf("hyperpad-%s", host),
		Service,
		Domain,
		port,
		[]string{"path=/ws"},
		nil,
	)
	if err != nil {
		return nil, err
	}
	log.Printf("[Discovery] advertising %s on port %d", Service, port)
	return server.Shutdown, nil
}

// Browse collects the websocket urls of the relays advertised on the local
// network until ctx is done.
func Browse(ctx context.Context) ([]string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}

	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan []string)
	go func() {
		var urls []string
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					done <- urls
					return
				}
				if len(entry.AddrIPv4) > 0 {
					urls = append(urls, fmt.Sprintf("ws://%s:%d/ws", entry.AddrIPv4[0], entry.Port))
				}
			case <-ctx.Done():
				done <- urls
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, Service, Domain, entries); err != nil {
		return nil, err
	}
	<-ctx.Done()
	return <-done, nil
}
