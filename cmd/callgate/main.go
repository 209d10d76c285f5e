package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callgate/internal/api"
	"callgate/internal/auth"
	"callgate/internal/config"
	"callgate/internal/database"
	"callgate/internal/engine"
	"callgate/internal/fastagi"
	"callgate/internal/recorder"
	"callgate/internal/settings"
	"callgate/internal/websocket"
)

const defaultConfigPath = "/etc/callgate/callgate.yaml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		configPath := defaultConfigPath
		if len(os.Args) > 2 {
			configPath = os.Args[2]
		}
		runServer(configPath)
	case "status":
		host := "127.0.0.1:8080"
		if len(os.Args) > 2 {
			host = os.Args[2]
		}
		checkStatus(host)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("Comando desconocido: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("callgate - motor de admisión de llamadas")
	fmt.Println()
	fmt.Println("Uso:")
	fmt.Println("  callgate start [config.yaml]   Inicia el servicio")
	fmt.Println("  callgate status [host:puerto]  Consulta el estado del servicio")
	fmt.Println("  callgate help                  Muestra esta ayuda")
}

func runServer(configPath string) {
	log.SetFlags(log.LstdFlags)
	log.Printf("[Main] Iniciando callgate (config: %s)", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("[Main] Error cargando configuración: %v", err)
	}

	auth.SetSecret(cfg.API.JWTSecret)

	conn, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatalf("[Main] Error conectando a la base de datos: %v", err)
	}
	defer conn.Close()

	if err := database.EnsureSchema(conn.DB); err != nil {
		log.Fatalf("[Main] Error verificando esquema: %v", err)
	}

	repo := database.NewRepository(conn)

	// Núcleo del motor
	tracker := engine.NewConcurrencyTracker()
	pending := engine.NewAttemptTracker()
	store := settings.NewStore(repo, time.Duration(cfg.Engine.SettingsTTLSeconds)*time.Second)
	eng := engine.New(store, tracker, pending, time.Duration(cfg.Engine.OrphanSafetyMarginSeconds)*time.Second)
	rec := recorder.New(repo, tracker, pending)

	reaper := engine.NewReaper(pending, rec, time.Duration(cfg.Engine.ReaperIntervalSeconds)*time.Second)
	reaper.Start()
	defer reaper.Stop()

	hub := websocket.Init()

	agiServer := fastagi.NewServer(cfg.FastAGI.Address(), eng, rec)
	if err := agiServer.Start(); err != nil {
		log.Fatalf("[Main] Error iniciando FastAGI: %v", err)
	}
	defer agiServer.Stop()

	apiServer := api.NewServer(cfg.API, repo, eng, rec, hub)
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Fatalf("[Main] Error en servidor API: %v", err)
		}
	}()

	log.Println("[Main] callgate iniciado")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("[Main] Señal %v recibida, apagando...", sig)
}

func checkStatus(host string) {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/health", host))
	if err != nil {
		fmt.Printf("callgate: no responde (%v)\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		fmt.Println("callgate: activo")
		return
	}
	fmt.Printf("callgate: respuesta inesperada (%d)\n", resp.StatusCode)
	os.Exit(1)
}
