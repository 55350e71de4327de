package main

import (
	"context"
	"flag"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"filedrop/internal/gateway"
	"filedrop/internal/repository/registry"
	redisSvc "filedrop/internal/service/redis"
	"filedrop/internal/utils/log"
)

func main() {
	addr := flag.String("addr", "localhost:1633", "listen address")
	redisAddr := flag.String("redis", "localhost:6379", "redis address")
	mongoURI := flag.String("mongo", "mongodb://localhost:27017", "mongo URI")
	flag.Parse()

	mongoDBClient, err := initMongo(*mongoURI)
	if err != nil {
		log.Fatal("connect to mongo failed", zap.Error(err))
	}

	db := mongoDBClient.Database("filedrop")

	rdb := redis.NewClient(&redis.Options{
		Addr: *redisAddr,
	})

	g := gateway.New(registry.NewRepo(db), redisSvc.NewRedis(rdb))

	log.Info("gateway listening", zap.String("addr", *addr))
	if err := g.Run(*addr); err != nil {
		log.Fatal("gateway stopped", zap.Error(err))
	}
}

func initMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
