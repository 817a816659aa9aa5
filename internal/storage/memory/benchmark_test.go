package memory

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func BenchmarkMemoryStore_CreateAddress(b *testing.B) {
	ctx := context.Background()
	store := NewStore()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a := newAddress(fmt.Sprintf("addr-%d", i), fmt.Sprintf("user%d@temp-mail.local", i), true, base.Add(time.Hour))
		_ = store.CreateAddress(ctx, a)
	}
}

func BenchmarkMemoryStore_GetAddressByName(b *testing.B) {
	ctx := context.Background()
	store := NewStore()
	for i := 0; i < 1000; i++ {
		a := newAddress(fmt.Sprintf("addr-%d", i), fmt.Sprintf("user%d@temp-mail.local", i), true, base.Add(time.Hour))
		_ = store.CreateAddress(ctx, a)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.GetAddressByName(ctx, fmt.Sprintf("user%d@temp-mail.local", i%1000))
	}
}

func BenchmarkMemoryStore_ExpireAddresses(b *testing.B) {
	ctx := context.Background()
	store := NewStore()
	for i := 0; i < 1000; i++ {
		a := newAddress(fmt.Sprintf("addr-%d", i), fmt.Sprintf("user%d@temp-mail.local", i), true, base.Add(time.Duration(i)*time.Second))
		_ = store.CreateAddress(ctx, a)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.ExpireAddresses(ctx, base.Add(10*time.Minute))
	}
}
