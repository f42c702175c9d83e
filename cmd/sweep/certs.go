package main

import (
	"fmt"
	"net"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cuemby/sweep/pkg/security"
)

var certsCmd = &cobra.Command{
	Use:   "certs",
	Short: "Manage mutual TLS certificates",
}

var certsInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the certificate authority",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("ca-dir")
		name, _ := cmd.Flags().GetString("name")

		if _, err := security.LoadCACertFromFile(dir); err == nil {
			return fmt.Errorf("a certificate authority already exists in %s", dir)
		}

		ca := security.NewCertAuthority()
		if err := ca.Initialize(name); err != nil {
			return err
		}
		if err := ca.Save(dir); err != nil {
			return err
		}
		fmt.Printf("✓ Certificate authority created in %s\n", dir)
		return nil
	},
}

var certsIssueCmd = &cobra.Command{
	Use:   "issue NODE-ID",
	Short: "Issue a coordinator or worker certificate",
	Long: `Issue a node certificate signed by the certificate authority and write
node.crt, node.key and ca.crt to the output directory. Point the
server.tls section of the configuration at these files.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		caDir, _ := cmd.Flags().GetString("ca-dir")
		out, _ := cmd.Flags().GetString("out")
		role, _ := cmd.Flags().GetString("role")
		hosts, _ := cmd.Flags().GetStringSlice("host")

		ca, err := security.LoadCertAuthority(caDir)
		if err != nil {
			return err
		}

		var dnsNames []string
		var ips []net.IP
		for _, h := range hosts {
			if ip := net.ParseIP(h); ip != nil {
				ips = append(ips, ip)
			} else {
				dnsNames = append(dnsNames, h)
			}
		}

		cert, err := ca.IssueNodeCertificate(args[0], role, dnsNames, ips)
		if err != nil {
			return err
		}
		files, err := security.SaveNodeCert(cert, ca.RootCACert(), out)
		if err != nil {
			return err
		}

		fmt.Printf("✓ Issued %s certificate for %s\n", role, args[0])
		fmt.Printf("  cert_file: %s\n  key_file: %s\n  ca_file: %s\n", files.CertFile, files.KeyFile, files.CAFile)
		return nil
	},
}

var certsShowCmd = &cobra.Command{
	Use:   "show DIR",
	Short: "Show the node certificate in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cert, err := security.LoadCertFromFile(args[0])
		if err != nil {
			return err
		}
		info := security.GetCertInfo(cert.Leaf)
		keys := make([]string, 0, len(info))
		for k := range info {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		for _, k := range keys {
			fmt.Fprintf(w, "%s\t%v\n", k, info[k])
		}
		if caCert, err := security.LoadCACertFromFile(args[0]); err == nil {
			verified := "ok"
			if err := security.ValidateCertChain(cert.Leaf, caCert); err != nil {
				verified = err.Error()
			}
			fmt.Fprintf(w, "chain\t%s\n", verified)
		}
		return w.Flush()
	},
}

func init() {
	certsCmd.PersistentFlags().String("ca-dir", "./sweep-ca", "Certificate authority directory")
	certsInitCmd.Flags().String("name", "Sweep Root CA", "Common name of the root certificate")
	certsIssueCmd.Flags().String("out", "./certs", "Output directory")
	certsIssueCmd.Flags().String("role", security.RoleWorker, "Node role (coordinator, worker)")
	certsIssueCmd.Flags().StringSlice("host", nil, "DNS names or IP addresses the certificate is valid for")

	certsCmd.AddCommand(certsInitCmd)
	certsCmd.AddCommand(certsIssueCmd)
	certsCmd.AddCommand(certsShowCmd)
	rootCmd.AddCommand(certsCmd)
}
