package transport

import (
	"context"
	"testing"
)

func TestResolveHostAddrLiteralIP(t *testing.T) {
	host, addr, err := resolveHostAddr(context.Background(), "127.0.0.1:9443")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if host != "127.0.0.1" || addr != "127.0.0.1:9443" {
		t.Fatalf("got host=%q addr=%q", host, addr)
	}
}

func TestResolveHostAddrMissingPort(t *testing.T) {
	if _, _, err := resolveHostAddr(context.Background(), "sfu.example.com"); err == nil {
		t.Fatalf("expected error for missing port")
	}
}

func TestResolveHostAddrInvalidPort(t *testing.T) {
	if _, _, err := resolveHostAddr(context.Background(), "sfu.example.com:notaport"); err == nil {
		t.Fatalf("expected error for invalid port")
	}
}

func TestResolveHostAddrIPv6Literal(t *testing.T) {
	host, addr, err := resolveHostAddr(context.Background(), "[::1]:9443")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if host != "::1" || addr != "[::1]:9443" {
		t.Fatalf("got host=%q addr=%q", host, addr)
	}
}

func TestBuildTLSConfigCARoot(t *testing.T) {
	conf := buildTLSConfig("sfu.example.com", nil)
	if conf.ServerName != "sfu.example.com" {
		t.Fatalf("got ServerName=%q", conf.ServerName)
	}
	if conf.InsecureSkipVerify {
		t.Fatalf("CA-root mode must not disable verification")
	}
	if conf.VerifyPeerCertificate != nil {
		t.Fatalf("CA-root mode must not install a custom verifier")
	}
	if len(conf.NextProtos) != 1 || conf.NextProtos[0] != ALPN {
		t.Fatalf("got NextProtos=%v", conf.NextProtos)
	}
}

func TestBuildTLSConfigPinnedAccepts(t *testing.T) {
	pinned := []byte{1, 2, 3, 4}
	conf := buildTLSConfig("sfu.example.com", pinned)
	if !conf.InsecureSkipVerify {
		t.Fatalf("pinned mode must disable the default verifier")
	}
	if conf.VerifyPeerCertificate == nil {
		t.Fatalf("pinned mode must install a custom verifier")
	}
	if err := conf.VerifyPeerCertificate([][]byte{pinned}, nil); err != nil {
		t.Fatalf("matching cert should be accepted: %v", err)
	}
}

func TestBuildTLSConfigPinnedRejectsMismatch(t *testing.T) {
	conf := buildTLSConfig("sfu.example.com", []byte{1, 2, 3, 4})
	if err := conf.VerifyPeerCertificate([][]byte{{9, 9, 9, 9}}, nil); err == nil {
		t.Fatalf("mismatched cert should be rejected")
	}
}

func TestBuildTLSConfigPinnedRejectsEmpty(t *testing.T) {
	conf := buildTLSConfig("sfu.example.com", []byte{1, 2, 3, 4})
	if err := conf.VerifyPeerCertificate(nil, nil); err == nil {
		t.Fatalf("no presented certificates should be rejected")
	}
}
