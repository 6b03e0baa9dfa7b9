package proxy

import (
	"testing"
)

func TestRoundRobin(t *testing.T) {
	m, err := NewManager([]string{
		"http://1.1.1.1:8000",
		"http://2.2.2.2:8000",
	}, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	p1 := m.NextHTTP()
	if p1.Host != "1.1.1.1:8000" {
		t.Errorf("Expected 1.1.1.1, got %s", p1.Host)
	}

	p2 := m.NextHTTP()
	if p2.Host != "2.2.2.2:8000" {
		t.Errorf("Expected 2.2.2.2, got %s", p2.Host)
	}

	p3 := m.NextHTTP()
	if p3.Host != "1.1.1.1:8000" {
		t.Errorf("Expected 1.1.1.1 (loop back), got %s", p3.Host)
	}
}

func TestNilManagerIsDisabled(t *testing.T) {
	var m *Manager
	if m.HTTPEnabled() || m.SMTPEnabled() {
		t.Error("nil manager must report disabled")
	}
	if m.NextHTTP() != nil {
		t.Error("nil manager must rotate nothing")
	}
}

func TestSMTPProxyRequiresSocks(t *testing.T) {
	if _, err := NewManager(nil, []string{"http://1.1.1.1:8000"}); err == nil {
		t.Error("expected error for non-SOCKS SMTP proxy")
	}
	m, err := NewManager(nil, []string{"socks5://1.1.1.1:1080"})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if !m.SMTPEnabled() {
		t.Error("SMTP pool should be enabled")
	}
}

func TestInvalidProxyURL(t *testing.T) {
	if _, err := NewManager([]string{"not a url"}, nil); err == nil {
		t.Error("expected error for malformed proxy URL")
	}
}

func TestEmptyEntriesSkipped(t *testing.T) {
	m, err := NewManager([]string{"", "http://1.1.1.1:8000", ""}, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if !m.HTTPEnabled() {
		t.Error("pool with one real entry should be enabled")
	}
}
