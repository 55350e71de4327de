package main

import (
	"context"
	"flag"
	"mime"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"filedrop/internal/cryptographic/envelope"
	"filedrop/internal/inbox"
	"filedrop/internal/model"
	"filedrop/internal/resolver"
	"filedrop/internal/storage"
	"filedrop/internal/utils/log"
)

func main() {
	gatewayURL := flag.String("gateway", "http://localhost:1633", "gateway base URL")
	to := flag.String("to", "", "recipient name")
	file := flag.String("file", "", "path of the file to send")
	flag.Parse()

	if *to == "" || *file == "" {
		log.Fatal("usage: send -to <name> -file <path>")
	}

	ctx := context.Background()

	res, err := resolver.NewClient(*gatewayURL, nil).Resolve(ctx, *to)
	if err != nil {
		log.Fatal("resolve recipient failed", zap.Error(err))
	}
	switch res.Outcome {
	case resolver.OutcomeNotFound:
		log.Fatal("recipient is not registered", zap.String("name", *to))
	case resolver.OutcomeResolvedNoKey:
		log.Fatal("recipient has no public key record", zap.String("name", *to))
	}

	plaintext, err := os.ReadFile(*file)
	if err != nil {
		log.Fatal("read file failed", zap.Error(err))
	}

	meta := envelope.Metadata{
		Filename: filepath.Base(*file),
		MimeType: mime.TypeByExtension(filepath.Ext(*file)),
	}
	env, err := envelope.Encrypt(res.PublicKey, plaintext, meta)
	if err != nil {
		log.Fatal("encrypt failed", zap.Error(err))
	}

	reference, err := storage.NewHTTPClient(*gatewayURL, nil).Put(ctx, envelope.Serialize(env))
	if err != nil {
		log.Fatal("store ciphertext failed", zap.Error(err))
	}

	descriptor := model.GSOCMessage{
		Reference: reference,
		Timestamp: uint64(time.Now().Unix()),
	}
	if err := inbox.NewPublisher(*gatewayURL, nil).Publish(ctx, *res.Inbox, descriptor); err != nil {
		log.Fatal("publish inbox descriptor failed", zap.Error(err))
	}

	log.Info("file sent",
		zap.String("to", *to),
		zap.String("reference", reference),
		zap.Int("size", len(plaintext)))
}
