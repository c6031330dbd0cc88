package shuttled

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	clientSocketPath *string
)

func init() {
	// Shared flags for all admin commands
	pf := pflag.NewFlagSet("commonAdminFlags", pflag.ContinueOnError)
	clientSocketPath = pf.String("socket", "", "admin server socket to connect to")
	err := cobra.MarkFlagRequired(pf, "socket")
	if err != nil {
		panic(err)
	}

	AdminClientSetAdapterCmd.Flags().AddFlagSet(pf)
	AdminClientRemoveAdapterCmd.Flags().AddFlagSet(pf)
	AdminClientSetCounterpartyCmd.Flags().AddFlagSet(pf)
	AdminClientRemoveCounterpartyCmd.Flags().AddFlagSet(pf)
	AdminClientRetryCmd.Flags().AddFlagSet(pf)
	AdminClientRecoverCmd.Flags().AddFlagSet(pf)
	AdminClientListFailedCmd.Flags().AddFlagSet(pf)

	AdminCmd.AddCommand(AdminClientSetAdapterCmd)
	AdminCmd.AddCommand(AdminClientRemoveAdapterCmd)
	AdminCmd.AddCommand(AdminClientSetCounterpartyCmd)
	AdminCmd.AddCommand(AdminClientRemoveCounterpartyCmd)
	AdminCmd.AddCommand(AdminClientRetryCmd)
	AdminCmd.AddCommand(AdminClientRecoverCmd)
	AdminCmd.AddCommand(AdminClientListFailedCmd)
}

var AdminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Shuttle node admin commands",
}

var AdminClientSetAdapterCmd = &cobra.Command{
	Use:   "set-adapter [SELECTOR] [ADAPTER_ID]",
	Short: "Bind a corridor selector to a back-end adapter",
	Run:   runSetAdapter,
	Args:  cobra.ExactArgs(2),
}

var AdminClientRemoveAdapterCmd = &cobra.Command{
	Use:   "remove-adapter [SELECTOR]",
	Short: "Remove the adapter binding of a corridor selector",
	Run:   runRemoveAdapter,
	Args:  cobra.ExactArgs(1),
}

var AdminClientSetCounterpartyCmd = &cobra.Command{
	Use:   "set-counterparty [SELECTOR] [ROUTER]",
	Short: "Register the trusted router address of a remote corridor",
	Run:   runSetCounterparty,
	Args:  cobra.ExactArgs(2),
}

var AdminClientRemoveCounterpartyCmd = &cobra.Command{
	Use:   "remove-counterparty [SELECTOR]",
	Short: "Remove the trusted router address of a remote corridor",
	Run:   runRemoveCounterparty,
	Args:  cobra.ExactArgs(1),
}

var AdminClientRetryCmd = &cobra.Command{
	Use:   "retry [FILENAME]",
	Short: "Retry a parked message from its hex dump",
	Run:   runRetry,
	Args:  cobra.ExactArgs(1),
}

var AdminClientRecoverCmd = &cobra.Command{
	Use:   "recover [FILENAME] [DESTINATION]",
	Short: "Pay a parked message's funds out to a destination address",
	Run:   runRecover,
	Args:  cobra.ExactArgs(2),
}

var AdminClientListFailedCmd = &cobra.Command{
	Use:   "failed",
	Short: "List outstanding failed messages",
	Run:   runListFailed,
	Args:  cobra.NoArgs,
}

func getAdminClient(addr string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", addr)
			},
		},
	}
}

// adminRequest performs one call against the admin socket. The host in the
// URL is a placeholder; the transport dials the socket directly.
func adminRequest(method, path string, body interface{}) []byte {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			log.Fatalf("failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://admin"+path, reader)
	if err != nil {
		log.Fatalf("failed to build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := getAdminClient(*clientSocketPath).Do(req)
	if err != nil {
		log.Fatalf("failed to connect to %s: %v", *clientSocketPath, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("failed to read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("admin request failed: %s: %s", resp.Status, b)
	}
	return b
}

func parseSelectorArg(arg string) uint64 {
	v, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		log.Fatalf("invalid selector %q: %v", arg, err)
	}
	return v
}

func readMessageFile(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("failed to read %s: %v", path, err)
	}
	return strings.TrimSpace(string(b))
}

func runSetAdapter(cmd *cobra.Command, args []string) {
	adminRequest(http.MethodPost, "/v1/admin/adapter", adminAdapterRequest{
		Selector: parseSelectorArg(args[0]),
		Adapter:  args[1],
	})
	fmt.Println("adapter bound")
}

func runRemoveAdapter(cmd *cobra.Command, args []string) {
	selector := parseSelectorArg(args[0])
	adminRequest(http.MethodDelete, fmt.Sprintf("/v1/admin/adapter/%d", selector), nil)
	fmt.Println("adapter removed")
}

func runSetCounterparty(cmd *cobra.Command, args []string) {
	adminRequest(http.MethodPost, "/v1/admin/counterparty", adminCounterpartyRequest{
		Selector: parseSelectorArg(args[0]),
		Router:   args[1],
	})
	fmt.Println("counterparty set")
}

func runRemoveCounterparty(cmd *cobra.Command, args []string) {
	selector := parseSelectorArg(args[0])
	adminRequest(http.MethodDelete, fmt.Sprintf("/v1/admin/counterparty/%d", selector), nil)
	fmt.Println("counterparty removed")
}

func runRetry(cmd *cobra.Command, args []string) {
	adminRequest(http.MethodPost, "/v1/admin/retry", adminRetryRequest{
		Message: readMessageFile(args[0]),
	})
	fmt.Println("message retried")
}

func runRecover(cmd *cobra.Command, args []string) {
	adminRequest(http.MethodPost, "/v1/admin/recover", adminRecoverRequest{
		Message:     readMessageFile(args[0]),
		Destination: args[1],
	})
	fmt.Println("funds recovered")
}

func runListFailed(cmd *cobra.Command, args []string) {
	b := adminRequest(http.MethodGet, "/v1/admin/failed", nil)
	var records []failedRecordResponse
	if err := json.Unmarshal(b, &records); err != nil {
		log.Fatalf("failed to decode response: %v", err)
	}
	if len(records) == 0 {
		fmt.Println("no outstanding failed messages")
		return
	}
	for _, rec := range records {
		fmt.Printf("%s  %s\n", rec.ID, rec.Digest)
	}
}
