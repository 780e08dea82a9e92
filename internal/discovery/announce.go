package discovery

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
)

// Announce broadcasts self on the local link every interval until ctx ends.
func Announce(ctx context.Context, self PeerAddress, port int, interval time.Duration, log *logrus.Logger) error {
	return announceTo(ctx, &net.UDPAddr{IP: net.IPv4bcast, Port: port}, self, interval, log)
}

func announceTo(ctx context.Context, dst *net.UDPAddr, self PeerAddress, interval time.Duration, log *logrus.Logger) error {
	if interval <= 0 {
		interval = DefaultInterval
	}

	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return fmt.Errorf("opening announce socket: %w", err)
	}
	defer conn.Close()

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetTTL(1); err != nil {
		log.Warnf("Failed to limit beacon TTL: %v", err)
	}

	payload := []byte(self.String())
	send := func() {
		if _, err := pc.WriteTo(payload, nil, dst); err != nil {
			log.Debugf("Beacon send to %s failed: %v", dst, err)
		}
	}

	log.Infof("Announcing %s", self)
	send()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			send()
		}
	}
}
