package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"filedrop/internal/cryptographic/envelope"
	"filedrop/internal/identity"
	"filedrop/internal/inbox"
	"filedrop/internal/model"
	"filedrop/internal/resolver"
	redisSvc "filedrop/internal/service/redis"
	"filedrop/internal/storage"
	"filedrop/internal/store"
	"filedrop/internal/utils/log"
)

func main() {
	gatewayURL := flag.String("gateway", "http://localhost:1633", "gateway base URL")
	redisAddr := flag.String("redis", "localhost:6379", "redis address")
	keyFile := flag.String("key", "filedrop.key", "identity key file")
	account := flag.String("account", "", "account name")
	register := flag.Bool("register", false, "publish this account's name record")
	syncOnce := flag.Bool("sync", false, "poll the inbox once")
	watch := flag.Bool("watch", false, "subscribe to the inbox feed")
	fetch := flag.String("fetch", "", "fetch and decrypt a stored reference")
	outDir := flag.String("out", ".", "directory for decrypted files")
	overlay := flag.String("overlay", "", "inbox overlay (defaults to the resolved record)")
	baseID := flag.String("base", "", "inbox base identifier")
	from := flag.Uint64("from", 0, "feed index to subscribe from")
	flag.Parse()

	if *account == "" {
		log.Fatal("usage: inbox -account <name> [-register|-sync|-watch|-fetch <ref>]")
	}

	ctx := context.Background()

	id, err := identity.LoadOrCreate(*keyFile)
	if err != nil {
		log.Fatal("load identity failed", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: *redisAddr,
	})
	db := redisSvc.NewRedis(rdb)
	poller := inbox.NewPoller(*gatewayURL, nil)
	msgStore := store.New(db, poller)

	if err := msgStore.LoadMessages(ctx, *account); err != nil {
		// Fail soft: start with an empty view rather than refusing to run.
		log.Error("load persisted messages failed", zap.Error(err))
	}

	if *register {
		if err := registerName(ctx, *gatewayURL, *account, id, *overlay, *baseID); err != nil {
			log.Fatal("register name failed", zap.Error(err))
		}
		log.Info("name record published", zap.String("name", *account))
		return
	}

	params, err := inboxParams(ctx, *gatewayURL, *account, *overlay, *baseID)
	if err != nil {
		log.Fatal("determine inbox params failed", zap.Error(err))
	}

	switch {
	case *syncOnce:
		added, err := msgStore.SyncInbox(ctx, *account, params)
		if err != nil {
			log.Fatal("sync inbox failed", zap.Error(err))
		}
		log.Info("inbox synced", zap.Int("new", added))
		for _, m := range msgStore.Messages(*account, model.FolderReceived) {
			fmt.Printf("%s  %s  %d bytes\n", m.Reference, m.Filename, m.Size)
		}

	case *watch:
		watchInbox(ctx, msgStore, *gatewayURL, *account, params, *from)

	case *fetch != "":
		if err := fetchAndDecrypt(ctx, msgStore, id, *gatewayURL, *account, *fetch, *outDir); err != nil {
			log.Fatal("fetch failed", zap.Error(err))
		}

	default:
		for _, m := range msgStore.Messages(*account, model.FolderReceived) {
			fmt.Printf("%s  %s  %d bytes\n", m.Reference, m.Filename, m.Size)
		}
	}
}

func watchInbox(ctx context.Context, msgStore *store.Store, gatewayURL, account string, params model.InboxParams, from uint64) {
	sub := inbox.NewSubscriber(gatewayURL, inbox.Options{})
	defer sub.Cancel()

	events := sub.Subscribe(ctx, params, from)

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case inbox.EventConnected:
				log.Info("inbox feed connected")
			case inbox.EventMessage:
				if err := msgStore.AddMessage(ctx, account, model.FolderReceived, model.NewPlaceholder(*ev.Message)); err != nil {
					log.Error("persist message failed", zap.Error(err))
					continue
				}
				log.Info("new message", zap.String("reference", ev.Message.Reference))
			case inbox.EventError:
				log.Error("inbox feed error, reconnecting", zap.Error(ev.Err))
			case inbox.EventClosed:
				log.Info("inbox feed closed, reconnecting")
			}
		}
	}
}

func fetchAndDecrypt(ctx context.Context, msgStore *store.Store, id *identity.Local, gatewayURL, account, reference, outDir string) error {
	data, err := storage.NewHTTPClient(gatewayURL, nil).Get(ctx, reference)
	if err != nil {
		return err
	}

	if !envelope.IsLikelyEncrypted(data) {
		// Plaintext upload; write it out as-is.
		path := filepath.Join(outDir, reference)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
		log.Info("payload was not encrypted, wrote raw bytes", zap.String("path", path))
		return nil
	}

	env, err := envelope.Deserialize(data)
	if err != nil {
		return err
	}

	plaintext, meta, err := envelope.Decrypt(id.KeyPair().PrivateKey, env)
	if errors.Is(err, envelope.ErrDecryption) {
		// Wrong key, tampered payload, or a heuristic false positive on
		// plaintext. Not the same thing as a corrupt download.
		return fmt.Errorf("payload could not be decrypted with this identity: %w", err)
	}
	if err != nil {
		return err
	}

	filename := meta.Filename
	if filename == "" {
		filename = reference
	}
	path := filepath.Join(outDir, filepath.Base(filename))
	if err := os.WriteFile(path, plaintext, 0o644); err != nil {
		return err
	}

	if err := msgStore.UpdateMessage(ctx, account, model.FolderReceived, &model.Message{
		Reference: reference,
		Filename:  filename,
		Size:      int64(len(plaintext)),
		Encrypted: true,
	}); err != nil {
		log.Error("update message metadata failed", zap.Error(err))
	}

	log.Info("file decrypted",
		zap.String("path", path),
		zap.String("mime", meta.MimeType),
		zap.Int("size", len(plaintext)))
	return nil
}

// inboxParams prefers explicit flags and falls back to the account's
// own name record.
func inboxParams(ctx context.Context, gatewayURL, account, overlay, baseID string) (model.InboxParams, error) {
	if overlay != "" && baseID != "" {
		return model.InboxParams{TargetOverlay: overlay, BaseIdentifier: baseID}.Normalize(), nil
	}

	res, err := resolver.NewClient(gatewayURL, nil).Resolve(ctx, account)
	if err != nil {
		return model.InboxParams{}, err
	}
	if res.Outcome == resolver.OutcomeNotFound || res.Inbox == nil {
		return model.InboxParams{}, fmt.Errorf("no name record for %q; run with -register first", account)
	}
	return *res.Inbox, nil
}

func registerName(ctx context.Context, gatewayURL, account string, id *identity.Local, overlay, baseID string) error {
	if overlay == "" {
		overlay = hex.EncodeToString(id.PublicKey()[:4])
	}
	if baseID == "" {
		baseID = "inbox-" + account
	}

	rec := resolver.Record{
		Name:      account,
		PublicKey: hex.EncodeToString(id.PublicKey()),
		Overlay:   overlay,
		BaseID:    baseID,
		Proximity: model.DefaultProximity,
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/names/%s", gatewayURL, account), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
