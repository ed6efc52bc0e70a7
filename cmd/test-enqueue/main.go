package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/screenplay-engine/internal/services/queue"
	queuePkg "github.com/jwebster45206/screenplay-engine/pkg/queue"
)

func main() {
	redisURL := flag.String("redis", "redis://localhost:6379", "redis URL")
	screenplayID := flag.String("screenplay", "", "screenplay id")
	sceneID := flag.String("scene", "", "scene id")
	turns := flag.Int("turns", 0, "auto-play this many turns (0 plays a single turn)")
	flag.Parse()

	redisOpts, err := redis.ParseURL(*redisURL)
	if err != nil {
		log.Fatal("Failed to parse Redis URL:", err)
	}
	client := redis.NewClient(redisOpts)
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	fmt.Println("Connected to Redis successfully!")

	reqType := queuePkg.RequestTypeNextTurn
	if *turns > 0 {
		reqType = queuePkg.RequestTypeAutoPlay
	}
	req := queuePkg.NewRequest(reqType, *screenplayID, *sceneID, *turns)

	turnQueue := queue.NewTurnQueue(queue.NewClientFromRedis(client, nil))
	if err := turnQueue.Enqueue(ctx, req); err != nil {
		log.Fatal("Failed to enqueue request:", err)
	}
	fmt.Printf("✅ Enqueued %s request: %s\n", req.Type, req.RequestID)

	depth, err := turnQueue.Depth(ctx)
	if err != nil {
		log.Fatal("Failed to get queue depth:", err)
	}

	fmt.Printf("\n📊 Queue depth: %d requests\n", depth)
	fmt.Println("\n💡 Now start the worker to see it play the scene!")
	fmt.Println("   Run: go run cmd/worker/main.go")
}
