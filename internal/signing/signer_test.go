package signing

import (
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	docSecret = "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
	docQuery  = "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	docSig    = "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71"
)

func TestHMACSHA256KnownVector(t *testing.T) {
	s := NewHMACSHA256([]byte(docSecret), HexLower)
	if got := s.Sign(docQuery); got != docSig {
		t.Fatalf("Sign() = %s, want %s", got, docSig)
	}
	upper := NewHMACSHA256([]byte(docSecret), HexUpper)
	if got := upper.Sign(docQuery); got != strings.ToUpper(docSig) {
		t.Fatalf("Sign(upper) = %s, want %s", got, strings.ToUpper(docSig))
	}
}

func TestSignIsDeterministic(t *testing.T) {
	s := NewHMACSHA512([]byte("secret"), Base64)
	a := s.Sign("nonce=1&command=returnBalances")
	b := s.Sign("nonce=1&command=returnBalances")
	if a != b {
		t.Fatalf("Sign() not deterministic: %s != %s", a, b)
	}
	if a == s.Sign("nonce=2&command=returnBalances") {
		t.Fatalf("Sign() ignored payload change")
	}
	// 64-byte digest in standard base64.
	if len(a) != 88 {
		t.Fatalf("len(Sign()) = %d, want 88", len(a))
	}
}

func TestSignerCopiesSecret(t *testing.T) {
	secret := []byte(docSecret)
	s := NewHMACSHA256(secret, HexLower)
	secret[0] = 'X'
	if got := s.Sign(docQuery); got != docSig {
		t.Fatalf("Sign() after caller mutation = %s, want %s", got, docSig)
	}
	s.Zero()
	if s.secret != nil {
		t.Fatalf("Zero() left secret in place")
	}
}

func TestClockAppliesOffset(t *testing.T) {
	local := time.UnixMilli(1_700_000_010_000)
	c := NewClock(func() time.Time { return local })
	c.SetOffset(10 * time.Second)
	if got := c.Next(); got != 1_700_000_000_000 {
		t.Fatalf("Next() = %d, want 1700000000000", got)
	}
}

func TestClockResyncMovesTimestampBack(t *testing.T) {
	const server = 1_700_000_000_000
	local := time.UnixMilli(server + 5_000)
	c := NewClock(func() time.Time { return local })

	if got := c.Next(); got != server+5_000 {
		t.Fatalf("Next() before resync = %d, want %d", got, server+5_000)
	}
	c.SetOffset(5 * time.Second)
	if got := c.Next(); got != server {
		t.Fatalf("Next() after resync = %d, want %d", got, server)
	}
}

func TestClockStrictlyIncreasing(t *testing.T) {
	fixed := time.UnixMilli(1_700_000_000_000)
	c := NewClock(func() time.Time { return fixed })

	var (
		mu   sync.Mutex
		seen = make(map[int64]struct{})
		wg   sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				ts := c.Next()
				mu.Lock()
				seen[ts] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != 400 {
		t.Fatalf("unique timestamps = %d, want 400", len(seen))
	}

	c.SetOffset(time.Hour)
	before := c.Next()
	if after := c.Next(); after <= before {
		t.Fatalf("Next() after offset jump = %d, want > %d", after, before)
	}
}
