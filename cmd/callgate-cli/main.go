package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	apiBase       string
	jwtToken      string
	internalToken string
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

func main() {
	rootCmd := &cobra.Command{
		Use:   "callgate-cli",
		Short: "Cliente de línea de comandos para callgate",
	}

	rootCmd.PersistentFlags().StringVar(&apiBase, "api", "http://127.0.0.1:8080", "URL base de la API")
	rootCmd.PersistentFlags().StringVar(&jwtToken, "token", os.Getenv("CALLGATE_TOKEN"), "Token JWT para los endpoints de operación")
	rootCmd.PersistentFlags().StringVar(&internalToken, "internal-token", os.Getenv("CALLGATE_INTERNAL_TOKEN"), "Token interno para los endpoints del PBX")

	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(routeCmd())
	rootCmd.AddCommand(attemptsCmd())
	rootCmd.AddCommand(linksCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(campaignsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loginCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Obtiene un token JWT",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, _ := json.Marshal(map[string]string{"username": username, "password": password})
			resp, err := httpClient.Post(apiBase+"/api/v1/login", "application/json", bytes.NewReader(body))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("login falló (%d)", resp.StatusCode)
			}
			var out struct {
				Token string `json:"token"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				return err
			}
			fmt.Println(out.Token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Usuario")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Contraseña")
	cmd.MarkFlagRequired("username")
	cmd.MarkFlagRequired("password")
	return cmd
}

func routeCmd() *cobra.Command {
	var did, callID string
	var keep bool
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Prueba la decisión de admisión para un DID",
		Long: "Consulta route_info como lo haría el PBX. Salvo que se pase --keep,\n" +
			"el cupo reservado se libera enseguida reportando un resultado fallido.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if callID == "" {
				callID = fmt.Sprintf("cli-probe-%d", time.Now().UnixNano())
			}

			q := url.Values{"did": {did}, "call_id": {callID}}
			req, _ := http.NewRequest(http.MethodGet, apiBase+"/internal/v1/route_info?"+q.Encode(), nil)
			req.Header.Set("X-Internal-Token", internalToken)
			resp, err := httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			raw, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("route_info falló (%d): %s", resp.StatusCode, raw)
			}

			var decision struct {
				Admitted     bool   `json:"admitted"`
				LinkID       int64  `json:"link_id"`
				Client       string `json:"client"`
				Target       string `json:"target"`
				RejectReason string `json:"reject_reason"`
			}
			if err := json.Unmarshal(raw, &decision); err != nil {
				return err
			}

			if !decision.Admitted {
				fmt.Printf("Rechazada: %s\n", decision.RejectReason)
				return nil
			}
			fmt.Printf("Admitida: link %d (%s) -> %s\n", decision.LinkID, decision.Client, decision.Target)

			if keep {
				fmt.Println("Cupo reservado; reportar el resultado con log_call.")
				return nil
			}

			// Liberar el cupo de la prueba reportando un resultado fallido.
			body, _ := json.Marshal(map[string]interface{}{"call_id": callID, "status": "FAILED"})
			rel, err := http.NewRequest(http.MethodPost, apiBase+"/internal/v1/log_call", bytes.NewReader(body))
			if err != nil {
				return err
			}
			rel.Header.Set("Content-Type", "application/json")
			rel.Header.Set("X-Internal-Token", internalToken)
			relResp, err := httpClient.Do(rel)
			if err != nil {
				return fmt.Errorf("la prueba quedó con el cupo tomado: %w", err)
			}
			relResp.Body.Close()
			fmt.Println("Cupo de prueba liberado.")
			return nil
		},
	}
	cmd.Flags().StringVar(&did, "did", "", "DID a consultar")
	cmd.Flags().StringVar(&callID, "call-id", "", "Call id de la prueba (se genera si falta)")
	cmd.Flags().BoolVar(&keep, "keep", false, "No liberar el cupo reservado")
	cmd.MarkFlagRequired("did")
	return cmd
}

func attemptsCmd() *cobra.Command {
	var campaignID int64
	var limit int
	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "Lista los intentos de llamada recientes",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{"limit": {fmt.Sprint(limit)}}
			if campaignID > 0 {
				q.Set("campaign_id", fmt.Sprint(campaignID))
			}
			var out struct {
				Attempts []struct {
					CallID   string `json:"call_id"`
					DID      string `json:"did"`
					Outcome  string `json:"outcome"`
					LinkID   *int64 `json:"link_id"`
					Duration int    `json:"duration_seconds"`
					Billsec  int    `json:"billsec_seconds"`
				} `json:"attempts"`
			}
			if err := getJSON("/api/v1/attempts?"+q.Encode(), &out); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CALL ID\tDID\tRESULTADO\tLINK\tDUR\tBILLSEC")
			for _, a := range out.Attempts {
				link := "-"
				if a.LinkID != nil {
					link = fmt.Sprint(*a.LinkID)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n", a.CallID, a.DID, a.Outcome, link, a.Duration, a.Billsec)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int64Var(&campaignID, "campaign", 0, "Filtrar por campaña")
	cmd.Flags().IntVar(&limit, "limit", 50, "Cantidad máxima")
	return cmd
}

func linksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "links",
		Short: "Muestra la concurrencia actual por link",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Links []struct {
					LinkID      int64 `json:"link_id"`
					Concurrency int   `json:"concurrency"`
				} `json:"links"`
			}
			if err := getJSON("/api/v1/links", &out); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LINK\tCONCURRENCIA")
			for _, l := range out.Links {
				fmt.Fprintf(w, "%d\t%d\n", l.LinkID, l.Concurrency)
			}
			return w.Flush()
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Muestra el estado general del motor",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				ActiveCalls     int            `json:"active_calls"`
				PendingAttempts int            `json:"pending_attempts"`
				Concurrency     map[string]int `json:"concurrency"`
			}
			if err := getJSON("/api/v1/stats", &out); err != nil {
				return err
			}
			fmt.Printf("Llamadas activas: %d\n", out.ActiveCalls)
			fmt.Printf("Intentos pendientes: %d\n", out.PendingAttempts)
			return nil
		},
	}
}

func campaignsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "campaigns",
		Short: "Lista las campañas configuradas",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Campaigns []struct {
					ID       int64  `json:"id"`
					Name     string `json:"name"`
					Status   string `json:"status"`
					Strategy string `json:"routing_strategy"`
				} `json:"campaigns"`
			}
			if err := getJSON("/api/v1/campaigns", &out); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNOMBRE\tESTADO\tESTRATEGIA")
			for _, c := range out.Campaigns {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", c.ID, c.Name, c.Status, c.Strategy)
			}
			return w.Flush()
		},
	}
}

func getJSON(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, apiBase+path, nil)
	if err != nil {
		return err
	}
	if jwtToken != "" {
		req.Header.Set("Authorization", "Bearer "+jwtToken)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s falló (%d): %s", path, resp.StatusCode, raw)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
