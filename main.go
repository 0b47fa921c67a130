package main

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	_ "net/http/pprof"
)

func main() {
	log, _ := zap.NewDevelopment()
	zap.ReplaceGlobals(log)
	viper.SetConfigType("yaml")
	viper.SetConfigName("config")
	viper.AddConfigPath("./")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	err := viper.ReadInConfig()
	if err != nil {
		log.Sugar().Fatal("init config error:", err)
	}

	err = viper.Unmarshal(&DefConfig)
	if err != nil {
		log.Sugar().Fatal("init config unmarshal error:", err)
	}

	go func() {
		http.ListenAndServe(DefConfig.PprofHost, nil)
	}()

	node := newNode()
	defer node.Close()

	r := mux.NewRouter()
	r.HandleFunc("/ws", node.serveWs)
	r.HandleFunc("/internal/publish", node.handlePublish).Methods(http.MethodPost)
	r.HandleFunc("/internal/presence/{user}", node.handlePresence).Methods(http.MethodGet)
	r.HandleFunc("/internal/conversations/{user}", node.handleConversations).Methods(http.MethodGet)
	r.HandleFunc("/healthz", handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())

	log.Sugar().Info("Start:", DefConfig.Host)
	err = http.ListenAndServe(DefConfig.Host, r)
	if err != nil {
		log.Sugar().Fatal("ListenAndServe: ", err)
	}
}
