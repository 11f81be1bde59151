package sigcache

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"

	"github.com/Unidata/LDM-sub012/internal/product"
)

func sigFor(b byte) product.Signature {
	var s product.Signature
	for i := range s {
		s[i] = b
	}
	return s
}

func TestMightContainHit(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := &Cache{client: db, ttl: time.Minute, prefix: "ldm:sig:"}
	sig := sigFor(0x11)

	mock.ExpectExists(c.key(sig)).SetVal(1)

	if !c.MightContain(context.Background(), sig) {
		t.Fatal("expected cache hit")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestMightContainMiss(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := &Cache{client: db, ttl: time.Minute, prefix: "ldm:sig:"}
	sig := sigFor(0x12)

	mock.ExpectExists(c.key(sig)).SetVal(0)

	if c.MightContain(context.Background(), sig) {
		t.Fatal("expected cache miss")
	}
}

func TestMightContainErrorTreatedAsMiss(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := &Cache{client: db, ttl: time.Minute, prefix: "ldm:sig:"}
	sig := sigFor(0x13)

	mock.ExpectExists(c.key(sig)).SetErr(redis.TxFailedErr)

	if c.MightContain(context.Background(), sig) {
		t.Fatal("a cache error must never be reported as a hit")
	}
}

func TestRememberSetsWithTTL(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := &Cache{client: db, ttl: 30 * time.Second, prefix: "ldm:sig:"}
	sig := sigFor(0x14)

	mock.ExpectSet(c.key(sig), 1, 30*time.Second).SetVal("OK")
	c.Remember(context.Background(), sig)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestForgetDeletes(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := &Cache{client: db, ttl: time.Minute, prefix: "ldm:sig:"}
	sig := sigFor(0x15)

	mock.ExpectDel(c.key(sig)).SetVal(1)
	c.Forget(context.Background(), sig)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations not met: %v", err)
	}
}

func TestNilCacheIsNoop(t *testing.T) {
	var c *Cache
	sig := sigFor(0x16)
	if c.MightContain(context.Background(), sig) {
		t.Fatal("nil cache must report miss")
	}
	c.Remember(context.Background(), sig)
	c.Forget(context.Background(), sig)
	if err := c.Close(); err != nil {
		t.Fatalf("nil cache Close must be a no-op: %v", err)
	}
}
