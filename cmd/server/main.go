package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JackieWYB/majiang-sub001/internal/archive"
	"github.com/JackieWYB/majiang-sub001/internal/config"
	"github.com/JackieWYB/majiang-sub001/internal/database"
	"github.com/JackieWYB/majiang-sub001/internal/dispatch"
	"github.com/JackieWYB/majiang-sub001/internal/log"
	"github.com/JackieWYB/majiang-sub001/internal/room"
	"github.com/JackieWYB/majiang-sub001/internal/server"
	"github.com/JackieWYB/majiang-sub001/internal/session"
	"github.com/JackieWYB/majiang-sub001/internal/store"
)

var configFile = flag.String("config", "configs/config.yaml", "配置文件路径")

func main() {
	flag.Parse()
	config.InitConfig(*configFile)
	conf := config.Conf
	log.InitLog(conf.ID, conf.LogConf.Level)

	redisMgr := database.NewRedis(conf.RedisConf)
	defer redisMgr.Close()
	stateStore := store.NewStateStore(redisMgr.Client(), conf.StoreConf)

	var archiveRepo archive.Repository
	if conf.MongoConf.Url != "" {
		mongoMgr := database.NewMongo(conf.MongoConf)
		defer mongoMgr.Close()
		archiveRepo = archive.NewMongoRepository(mongoMgr)
	}

	var bridge *dispatch.NatsBridge
	if conf.NatsConf.Enabled && conf.NatsConf.Url != "" {
		var err error
		bridge, err = dispatch.NewNatsBridge(conf.NatsConf.Url)
		if err != nil {
			log.Fatal("NATS 连接失败: %v", err)
		}
		defer bridge.Close()
	}

	sender := dispatch.NewSender(stateStore, bridge)
	rooms := room.NewManager(stateStore, conf.RoomConf.MaxActiveRoomsPerOwner)
	worker := server.NewWorker(conf.ID, rooms, stateStore, sender, archiveRepo, nil, conf)
	defer worker.Close()

	sessions := session.NewManager(stateStore, worker, worker, conf.SessionCfg, conf.JwtConf.Secret, nil)
	dispatcher := dispatch.NewDispatcher(worker, sessions, sender)
	wsServer := dispatch.NewWSServer(dispatcher, sender, sessions, bridge, conf.JwtConf.Secret)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor := server.NewMonitor(rooms, worker.Metrics, 10*time.Second)
	go monitor.Report(ctx)
	go worker.RunSweeper(ctx, time.Minute)

	mux := http.NewServeMux()
	mux.Handle("/ws", wsServer)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	addr := fmt.Sprintf(":%d", conf.HttpPort)
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Info("节点 %s 监听 %s", conf.ID, addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http 服务异常退出: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("收到退出信号, 开始优雅关停")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http 关停失败: %v", err)
	}
	monitor.Stop()
}
