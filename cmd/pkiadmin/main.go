package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/adamscao/pkiserver/internal/auth"
	"github.com/adamscao/pkiserver/internal/ca"
	"github.com/adamscao/pkiserver/internal/config"
	"github.com/adamscao/pkiserver/internal/db"
	"github.com/adamscao/pkiserver/internal/db/repository"
	"github.com/adamscao/pkiserver/internal/logging"
	"github.com/adamscao/pkiserver/internal/models"
	"github.com/adamscao/pkiserver/internal/service"
)

const timeLayout = "2006-01-02 15:04:05"

var (
	configPath string
	operator   string
	database   *db.DB
	svc        *service.Service
)

var rootCmd = &cobra.Command{
	Use:   "pkiadmin",
	Short: "PKI Server administration tool",
	Long:  "Administrative tool for managing device whitelist, CSR requests, certificates and audit logs",
}

var (
	whitelistCmd = &cobra.Command{Use: "whitelist", Short: "Manage the device whitelist"}
	requestsCmd  = &cobra.Command{Use: "requests", Short: "Review CSR requests"}
	certsCmd     = &cobra.Command{Use: "certs", Short: "Manage issued certificates"}
	auditCmd     = &cobra.Command{Use: "audit", Short: "Inspect the audit log"}
	totpCmd      = &cobra.Command{Use: "totp", Short: "Admin second factor helpers"}
)

var (
	whitelistAddCmd = &cobra.Command{
		Use:   "add",
		Short: "Whitelist a device token",
		RunE:  addWhitelist,
	}
	whitelistListCmd = &cobra.Command{
		Use:   "list",
		Short: "List whitelisted devices",
		RunE:  listWhitelist,
	}
	whitelistRemoveCmd = &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a whitelist entry",
		Args:  cobra.ExactArgs(1),
		RunE:  removeWhitelist,
	}

	requestsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List CSR requests",
		RunE:  listRequests,
	}
	requestsApproveCmd = &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve and sign a pending request",
		Args:  cobra.ExactArgs(1),
		RunE:  approveRequest,
	}
	requestsRejectCmd = &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a pending request",
		Args:  cobra.ExactArgs(1),
		RunE:  rejectRequest,
	}

	certsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List certificates",
		RunE:  listCerts,
	}
	certsRevokeCmd = &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke a certificate",
		Args:  cobra.ExactArgs(1),
		RunE:  revokeCert,
	}
	certsExportCmd = &cobra.Command{
		Use:   "export <id>",
		Short: "Export a certificate as pem, der or pkcs12",
		Args:  cobra.ExactArgs(1),
		RunE:  exportCert,
	}
	certsClientCmd = &cobra.Command{
		Use:   "client",
		Short: "Generate an operator client certificate",
		RunE:  generateClientCert,
	}

	auditListCmd = &cobra.Command{
		Use:   "list",
		Short: "List audit entries",
		RunE:  listAudit,
	}

	totpGenerateCmd = &cobra.Command{
		Use:   "generate",
		Short: "Generate an admin TOTP secret",
		RunE:  generateTOTP,
	}
)

var (
	deviceToken  string
	deviceName   string
	description  string
	autoApprove  bool
	validityDays int

	statusFilter string
	certType     string
	deviceType   string
	extraIPs     []string
	extraDNS     []string
	reason       string

	kindFilter string
	format     string
	outPath    string

	clientName  string
	clientEmail string
	clientRole  string

	actionFilter string

	requestLimit int
	certLimit    int
	auditLimit   int

	totpAccount string
)

func init() {
	// Root flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/pki-server/config.yaml", "Config file path")
	rootCmd.PersistentFlags().StringVar(&operator, "operator", "admin", "Operator name recorded in the audit log")

	// Whitelist flags
	whitelistAddCmd.Flags().StringVarP(&deviceToken, "token", "t", "", "Device token (generated when empty)")
	whitelistAddCmd.Flags().StringVarP(&deviceName, "name", "n", "", "Device name")
	whitelistAddCmd.Flags().StringVar(&description, "description", "", "Description")
	whitelistAddCmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Sign this device's requests without review")
	whitelistAddCmd.Flags().IntVar(&validityDays, "validity", 0, "Validity in days for auto-approved certificates")

	// Request flags
	requestsListCmd.Flags().StringVarP(&statusFilter, "status", "s", "pending", "Status filter (pending, approved, rejected, all)")
	requestsListCmd.Flags().IntVarP(&requestLimit, "limit", "l", 100, "Maximum rows")
	requestsApproveCmd.Flags().IntVar(&validityDays, "validity", 0, "Override validity in days")
	requestsApproveCmd.Flags().StringVar(&certType, "type", "", "Override certificate type (server, client, both)")
	requestsApproveCmd.Flags().StringVar(&deviceType, "device-type", "", "Subject OU label")
	requestsApproveCmd.Flags().StringSliceVar(&extraIPs, "ip", nil, "IP SAN (repeatable, replaces the request's IPs)")
	requestsApproveCmd.Flags().StringSliceVar(&extraDNS, "dns", nil, "Additional DNS SAN (repeatable)")
	requestsRejectCmd.Flags().StringVarP(&reason, "reason", "r", "", "Reject reason (required)")
	requestsRejectCmd.MarkFlagRequired("reason")

	// Certificate flags
	certsListCmd.Flags().StringVarP(&kindFilter, "kind", "k", "all", "Kind filter (device, client, all)")
	certsListCmd.Flags().IntVarP(&certLimit, "limit", "l", 100, "Maximum rows")
	certsRevokeCmd.Flags().StringVarP(&reason, "reason", "r", "", "Revoke reason")
	certsExportCmd.Flags().StringVarP(&format, "format", "f", service.FormatPEM, "Export format (pem, der, pkcs12)")
	certsExportCmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file (defaults to the suggested file name)")
	certsClientCmd.Flags().StringVarP(&clientName, "name", "n", "", "Operator name (required)")
	certsClientCmd.Flags().StringVar(&clientEmail, "email", "", "Operator email")
	certsClientCmd.Flags().StringVar(&clientRole, "role", service.DefaultClientRole, "Role written to the subject OU")
	certsClientCmd.Flags().IntVar(&validityDays, "validity", 0, "Validity in days")
	certsClientCmd.Flags().StringVar(&description, "description", "", "Purpose")
	certsClientCmd.MarkFlagRequired("name")

	// Audit flags
	auditListCmd.Flags().StringVarP(&actionFilter, "action", "a", "", "Action filter, e.g. CERT_ISSUED")
	auditListCmd.Flags().IntVarP(&auditLimit, "limit", "l", 50, "Maximum rows")

	// TOTP flags
	totpGenerateCmd.Flags().StringVar(&totpAccount, "account", "admin", "Account label shown in the authenticator app")

	// Add commands
	whitelistCmd.AddCommand(whitelistAddCmd, whitelistListCmd, whitelistRemoveCmd)
	requestsCmd.AddCommand(requestsListCmd, requestsApproveCmd, requestsRejectCmd)
	certsCmd.AddCommand(certsListCmd, certsRevokeCmd, certsExportCmd, certsClientCmd)
	auditCmd.AddCommand(auditListCmd)
	totpCmd.AddCommand(totpGenerateCmd)
	rootCmd.AddCommand(whitelistCmd, requestsCmd, certsCmd, auditCmd, totpCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initService builds the same service the server runs, against the
// configured database and CA.
func initService() error {
	// Load configuration
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(logging.Config{Level: "warn", Format: "console"})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	authority, err := ca.LoadCA(cfg.CA.CertPath, cfg.CA.KeyPath, cfg.CA.KeyPassword, cfg.CA.ChainPath)
	if err != nil {
		return fmt.Errorf("failed to load CA: %w", err)
	}

	// Connect to database
	database, err = db.New(cfg.Database.Driver, cfg.DataSource())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.RunMigrations(context.Background(), database); err != nil {
		database.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	authn, err := auth.NewAuthenticator(cfg.Admin.Password, cfg.GetSessionTTL(), cfg.Admin.TOTPSecret)
	if err != nil {
		database.Close()
		return fmt.Errorf("failed to initialize authenticator: %w", err)
	}

	svc = service.New(cfg.Policy, authority, repository.NewStore(database.DB), authn, logger.With(zap.String("operator", operator)))
	return nil
}

func actor() service.Actor {
	return service.Actor{Operator: operator, IP: "cli"}
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

func addWhitelist(cmd *cobra.Command, args []string) error {
	if err := initService(); err != nil {
		return err
	}
	defer database.Close()

	entry, err := svc.AddWhitelistEntry(cmd.Context(), service.WhitelistInput{
		DeviceToken:  deviceToken,
		DeviceName:   deviceName,
		Description:  description,
		AutoApprove:  autoApprove,
		ValidityDays: validityDays,
	}, actor())
	if err != nil {
		return fmt.Errorf("failed to add whitelist entry: %w", err)
	}

	fmt.Printf("\nDevice whitelisted successfully!\n")
	fmt.Printf("Entry ID: %d\n", entry.ID)
	fmt.Printf("Device token: %s\n", entry.DeviceToken)
	fmt.Printf("Auto approve: %t\n", entry.AutoApprove)
	fmt.Printf("Validity days: %d\n", entry.ValidityDays)
	return nil
}

func listWhitelist(cmd *cobra.Command, args []string) error {
	if err := initService(); err != nil {
		return err
	}
	defer database.Close()

	entries, err := svc.ListWhitelist(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list whitelist: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("No whitelisted devices")
		return nil
	}

	fmt.Printf("\nTotal devices: %d\n\n", len(entries))
	fmt.Printf("%-5s %-24s %-14s %-10s %-20s %s\n", "ID", "Name", "Auto Approve", "Validity", "Created", "Last Used")
	fmt.Println("----------------------------------------------------------------------------------------------------")
	for _, e := range entries {
		lastUsed := "never"
		if e.LastUsedAt != nil {
			lastUsed = e.LastUsedAt.Format(timeLayout)
		}
		fmt.Printf("%-5d %-24s %-14t %-10d %-20s %s\n",
			e.ID,
			models.Deref(e.DeviceName),
			e.AutoApprove,
			e.ValidityDays,
			e.CreatedAt.Format(timeLayout),
			lastUsed,
		)
	}
	return nil
}

func removeWhitelist(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if err := initService(); err != nil {
		return err
	}
	defer database.Close()

	if err := svc.RemoveWhitelistEntry(cmd.Context(), id, actor()); err != nil {
		return fmt.Errorf("failed to remove whitelist entry: %w", err)
	}
	fmt.Printf("Whitelist entry %d removed\n", id)
	return nil
}

func listRequests(cmd *cobra.Command, args []string) error {
	if err := initService(); err != nil {
		return err
	}
	defer database.Close()

	f := repository.RequestFilter{Limit: requestLimit}
	if statusFilter != "all" {
		f.Status = models.RequestStatus(statusFilter)
	}
	reqs, err := svc.ListRequests(cmd.Context(), f)
	if err != nil {
		return fmt.Errorf("failed to list requests: %w", err)
	}
	if len(reqs) == 0 {
		fmt.Println("No requests found")
		return nil
	}

	fmt.Printf("\nTotal requests: %d\n\n", len(reqs))
	fmt.Printf("%-5s %-20s %-24s %-16s %-9s %-8s %s\n", "ID", "Device", "Common Name", "Device IP", "Status", "Days", "Created")
	fmt.Println("----------------------------------------------------------------------------------------------------")
	for _, r := range reqs {
		fmt.Printf("%-5d %-20s %-24s %-16s %-9s %-8d %s\n",
			r.ID,
			r.DeviceID,
			r.CommonName,
			r.DeviceIP,
			r.Status,
			r.ValidityDays,
			r.CreatedAt.Format(timeLayout),
		)
	}
	return nil
}

func approveRequest(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if err := initService(); err != nil {
		return err
	}
	defer database.Close()

	res, err := svc.ApproveRequest(cmd.Context(), id, service.ApproveOverrides{
		ValidityDays:  validityDays,
		CertType:      certType,
		DeviceType:    deviceType,
		AdditionalIPs: extraIPs,
		AdditionalDNS: extraDNS,
	}, actor())
	if err != nil {
		return fmt.Errorf("failed to approve request: %w", err)
	}

	fmt.Printf("\nRequest %d approved\n", id)
	fmt.Printf("Certificate ID: %d\n", res.CertificateID)
	fmt.Printf("Serial number: %s\n", res.SerialNumber)
	return nil
}

func rejectRequest(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if err := initService(); err != nil {
		return err
	}
	defer database.Close()

	if err := svc.RejectRequest(cmd.Context(), id, reason, actor()); err != nil {
		return fmt.Errorf("failed to reject request: %w", err)
	}
	fmt.Printf("Request %d rejected\n", id)
	return nil
}

func listCerts(cmd *cobra.Command, args []string) error {
	f := repository.CertFilter{Limit: certLimit}
	switch kindFilter {
	case "all":
	case "device":
		f.Kind = repository.CertKindDevice
	case "client":
		f.Kind = repository.CertKindClient
	default:
		return fmt.Errorf("invalid kind %q (want device, client or all)", kindFilter)
	}

	if err := initService(); err != nil {
		return err
	}
	defer database.Close()

	certs, err := svc.ListCertificates(cmd.Context(), f)
	if err != nil {
		return fmt.Errorf("failed to list certificates: %w", err)
	}
	if len(certs) == 0 {
		fmt.Println("No certificates found")
		return nil
	}

	fmt.Printf("\nTotal certificates: %d\n\n", len(certs))
	fmt.Printf("%-5s %-32s %-34s %-8s %-6s %s\n", "ID", "Common Name", "Serial", "Valid", "Days", "Not After")
	fmt.Println("----------------------------------------------------------------------------------------------------------")
	for _, c := range certs {
		valid := "No"
		if c.IsValid {
			valid = "Yes"
		} else if c.Revoked() {
			valid = "Revoked"
		}
		fmt.Printf("%-5d %-32s %-34s %-8s %-6d %s\n",
			c.ID,
			c.CommonName,
			c.SerialNumber,
			valid,
			c.DaysUntilExpiry,
			c.NotAfter.Format(timeLayout),
		)
	}
	return nil
}

func revokeCert(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if err := initService(); err != nil {
		return err
	}
	defer database.Close()

	if err := svc.RevokeCertificate(cmd.Context(), id, reason, actor()); err != nil {
		return fmt.Errorf("failed to revoke certificate: %w", err)
	}
	fmt.Printf("Certificate %d revoked\n", id)
	return nil
}

func exportCert(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if err := initService(); err != nil {
		return err
	}
	defer database.Close()

	export, err := svc.ExportCertificate(cmd.Context(), id, format)
	if err != nil {
		return fmt.Errorf("failed to export certificate: %w", err)
	}

	data := []byte(export.Data)
	if export.Format != service.FormatPEM {
		if data, err = base64.StdEncoding.DecodeString(export.Data); err != nil {
			return fmt.Errorf("failed to decode export: %w", err)
		}
	}

	path := outPath
	if path == "" {
		path = export.Filename
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	fmt.Printf("Certificate %d written to %s (%s)\n", id, path, export.Format)
	if export.Password != "" {
		fmt.Printf("PKCS#12 password: %s\n", export.Password)
	}
	return nil
}

func generateClientCert(cmd *cobra.Command, args []string) error {
	if err := initService(); err != nil {
		return err
	}
	defer database.Close()

	res, err := svc.GenerateClientCertificate(cmd.Context(), service.ClientCertInput{
		Name:         clientName,
		Email:        clientEmail,
		Role:         clientRole,
		ValidityDays: validityDays,
		Description:  description,
	}, actor())
	if err != nil {
		return fmt.Errorf("failed to generate client certificate: %w", err)
	}

	archive, err := base64.StdEncoding.DecodeString(res.PKCS12)
	if err != nil {
		return fmt.Errorf("failed to decode PKCS#12: %w", err)
	}
	path := clientName + ".p12"
	if err := os.WriteFile(path, archive, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	fmt.Printf("\nClient certificate generated successfully!\n")
	fmt.Printf("Certificate ID: %d\n", res.CertificateID)
	fmt.Printf("Common name: %s\n", res.CommonName)
	fmt.Printf("Serial number: %s\n", res.SerialNumber)
	fmt.Printf("\nPKCS#12 file: %s\n", path)
	fmt.Printf("PKCS#12 password: %s\n", res.PKCS12Password)
	fmt.Printf("\nThe password is shown only once. Import the file into the operator's browser or keychain.\n")
	return nil
}

func listAudit(cmd *cobra.Command, args []string) error {
	if err := initService(); err != nil {
		return err
	}
	defer database.Close()

	logs, err := svc.GetAuditLogs(cmd.Context(), repository.AuditFilter{Action: actionFilter, Limit: auditLimit})
	if err != nil {
		return fmt.Errorf("failed to list audit logs: %w", err)
	}
	if len(logs) == 0 {
		fmt.Println("No audit entries found")
		return nil
	}

	fmt.Printf("%-20s %-20s %-12s %-34s %-10s %s\n", "Time", "Action", "Target", "Target ID", "Operator", "Details")
	fmt.Println("----------------------------------------------------------------------------------------------------------------------")
	for _, l := range logs {
		fmt.Printf("%-20s %-20s %-12s %-34s %-10s %s\n",
			l.CreatedAt.Format(timeLayout),
			l.Action,
			models.Deref(l.TargetType),
			models.Deref(l.TargetID),
			models.Deref(l.Operator),
			models.Deref(l.Details),
		)
	}
	return nil
}

func generateTOTP(cmd *cobra.Command, args []string) error {
	secret, err := auth.GenerateTOTPSecret(totpAccount)
	if err != nil {
		return fmt.Errorf("failed to generate TOTP secret: %w", err)
	}

	fmt.Printf("\nTOTP Secret: %s\n", secret)
	fmt.Printf("TOTP QR URL: %s\n", auth.GenerateQRCodeURL(secret, totpAccount))
	fmt.Printf("\nSet admin.totp_secret (or PKI_ADMIN_TOTP_SECRET) to this secret and restart the server.\n")
	fmt.Printf("Scan the QR URL with a TOTP app (Google Authenticator, Authy, etc.)\n")
	return nil
}
