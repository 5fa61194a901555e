package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	grpc_adapter "github.com/JoeShih716/go-wallet-ledger/internal/app/core/adapter/in/grpc"
	grpcpool "github.com/JoeShih716/go-wallet-ledger/pkg/grpc"
)

// 壓測: 建立一批錢包並入金，之後以亂數方向互相轉帳
// idempotency key 使用 ULID (依時間排序，方便在 log 中追查)
// 結束時各錢包餘額總和應等於入金總額
func main() {
	target := flag.String("target", "localhost:50051", "ledger grpc address")
	wallets := flag.Int("wallets", 20, "number of wallets")
	totalCount := flag.Int("n", 100000, "number of transfers")
	concurrency := flag.Int("c", 200, "concurrent requests")
	flag.Parse()
	if *wallets < 2 {
		log.Fatal("need at least 2 wallets")
	}

	pool := grpcpool.NewPool()
	defer pool.Close()
	conn, err := pool.GetConnection(*target)
	if err != nil {
		log.Fatalf("did not connect: %v", err)
	}
	client := grpc_adapter.NewClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	const initialBalance = 1_000_000
	ids := make([]string, *wallets)
	runID := ulid.Make().String()
	for i := range ids {
		w, err := client.CreateWallet(ctx, fmt.Sprintf("load-%s-%d", runID, i), "USER_ACCOUNT")
		if err != nil {
			log.Fatalf("create wallet: %v", err)
		}
		ids[i] = w["id"].(string)
		if _, err := client.Credit(ctx, "seed-"+ulid.Make().String(), ids[i], initialBalance); err != nil {
			log.Fatalf("credit wallet: %v", err)
		}
	}

	var (
		wg                           sync.WaitGroup
		ok, insufficient, retry, bad atomic.Int64
	)
	sem := make(chan struct{}, *concurrency)
	startTime := time.Now()

	for i := 0; i < *totalCount; i++ {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			from := rand.Intn(len(ids))
			to := (from + 1 + rand.Intn(len(ids)-1)) % len(ids)
			_, err := client.Transfer(ctx, ulid.Make().String(), ids[from], ids[to], rand.Int63n(1000)+1)
			switch status.Code(err) {
			case codes.OK:
				ok.Add(1)
			case codes.FailedPrecondition:
				insufficient.Add(1)
			case codes.Unavailable:
				retry.Add(1)
			default:
				if bad.Add(1) <= 10 {
					log.Printf("transfer failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(startTime)

	var sum int64
	for _, id := range ids {
		b, err := client.GetBalance(ctx, id)
		if err != nil {
			log.Fatalf("get balance: %v", err)
		}
		sum += int64(b["balance"].(float64))
	}

	fmt.Printf("Completed %d requests in %v\n", *totalCount, elapsed)
	fmt.Printf("TPS: %.2f\n", float64(*totalCount)/elapsed.Seconds())
	fmt.Printf("ok=%d insufficient=%d retry_later=%d failed=%d\n", ok.Load(), insufficient.Load(), retry.Load(), bad.Load())
	fmt.Printf("balance sum=%d expected=%d\n", sum, int64(initialBalance)*int64(len(ids)))
}
