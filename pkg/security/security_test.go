package security

import (
	"crypto/tls"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	rootKeySize = 2048
	os.Exit(m.Run())
}

func newCA(t *testing.T) *CertAuthority {
	t.Helper()
	ca := NewCertAuthority()
	require.False(t, ca.IsInitialized())
	require.NoError(t, ca.Initialize("Sweep Test CA"))
	require.True(t, ca.IsInitialized())
	return ca
}

func TestInitializeCA(t *testing.T) {
	ca := newCA(t)
	assert.True(t, ca.rootCert.IsCA)
	assert.Equal(t, "Sweep Test CA", ca.rootCert.Subject.CommonName)
	assert.WithinDuration(t, time.Now().Add(rootCAValidity), ca.rootCert.NotAfter, time.Hour)
	assert.NotEmpty(t, ca.RootCACert())
}

func TestSaveLoadCA(t *testing.T) {
	dir := t.TempDir()
	ca := newCA(t)
	require.NoError(t, ca.Save(dir))

	info, err := os.Stat(filepath.Join(dir, caKeyFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadCertAuthority(dir)
	require.NoError(t, err)
	assert.Equal(t, ca.RootCACert(), loaded.RootCACert())

	// a certificate issued by the reloaded CA verifies against the saved one
	cert, err := loaded.IssueNodeCertificate("w1", RoleWorker, nil, nil)
	require.NoError(t, err)
	assert.NoError(t, ca.VerifyCertificate(cert.Leaf))
}

func TestSaveUninitialized(t *testing.T) {
	assert.Error(t, NewCertAuthority().Save(t.TempDir()))
	_, err := NewCertAuthority().IssueNodeCertificate("n", RoleWorker, nil, nil)
	assert.Error(t, err)
}

func TestLoadMissingCA(t *testing.T) {
	_, err := LoadCertAuthority(t.TempDir())
	assert.Error(t, err)
}

func TestIssueNodeCertificate(t *testing.T) {
	ca := newCA(t)
	cert, err := ca.IssueNodeCertificate("c1", RoleCoordinator,
		[]string{"coord.local"}, []net.IP{net.ParseIP("127.0.0.1")})
	require.NoError(t, err)

	leaf := cert.Leaf
	assert.Equal(t, "coordinator-c1", leaf.Subject.CommonName)
	assert.Equal(t, []string{RoleCoordinator}, leaf.Subject.OrganizationalUnit)
	assert.Equal(t, []string{"coord.local"}, leaf.DNSNames)
	assert.True(t, leaf.IPAddresses[0].Equal(net.ParseIP("127.0.0.1")))
	assert.False(t, CertNeedsRotation(leaf))
	assert.NoError(t, ca.VerifyCertificate(leaf))

	_, err = ca.IssueNodeCertificate("x", "admin", nil, nil)
	assert.Error(t, err)
}

func TestVerifyRejectsForeignCA(t *testing.T) {
	ca := newCA(t)
	other := newCA(t)
	cert, err := other.IssueNodeCertificate("w1", RoleWorker, nil, nil)
	require.NoError(t, err)
	assert.Error(t, ca.VerifyCertificate(cert.Leaf))
}

func TestSaveLoadNodeCert(t *testing.T) {
	dir := t.TempDir()
	ca := newCA(t)
	cert, err := ca.IssueNodeCertificate("w1", RoleWorker, nil, nil)
	require.NoError(t, err)

	assert.False(t, CertExists(dir))
	files, err := SaveNodeCert(cert, ca.RootCACert(), dir)
	require.NoError(t, err)
	assert.True(t, CertExists(dir))
	assert.Equal(t, Files(dir), files)
	assert.True(t, files.Enabled())

	loaded, err := LoadCertFromFile(dir)
	require.NoError(t, err)
	assert.Equal(t, cert.Leaf.SerialNumber, loaded.Leaf.SerialNumber)

	caCert, err := LoadCACertFromFile(dir)
	require.NoError(t, err)
	assert.NoError(t, ValidateCertChain(loaded.Leaf, caCert))

	info := GetCertInfo(loaded.Leaf)
	assert.Equal(t, "worker-w1", info["subject"])
	assert.Equal(t, "Sweep Test CA", info["issuer"])
}

func TestCertNeedsRotation(t *testing.T) {
	assert.True(t, CertNeedsRotation(nil))
}

// TestMutualTLSHandshake checks the issued files against the gRPC TLS
// configuration of coordinator and worker
func TestMutualTLSHandshake(t *testing.T) {
	ca := newCA(t)
	root := t.TempDir()

	coord, err := ca.IssueNodeCertificate("c1", RoleCoordinator, []string{"coordinator"}, nil)
	require.NoError(t, err)
	coordFiles, err := SaveNodeCert(coord, ca.RootCACert(), filepath.Join(root, "coordinator"))
	require.NoError(t, err)

	work, err := ca.IssueNodeCertificate("w1", RoleWorker, nil, nil)
	require.NoError(t, err)
	workFiles, err := SaveNodeCert(work, ca.RootCACert(), filepath.Join(root, "worker"))
	require.NoError(t, err)

	serverCfg, err := coordFiles.Config(true)
	require.NoError(t, err)
	clientCfg, err := workFiles.Config(false)
	require.NoError(t, err)
	clientCfg.ServerName = "coordinator"

	serverCfg.SessionTicketsDisabled = true

	lis, err := tls.Listen("tcp", "127.0.0.1:0", serverCfg)
	require.NoError(t, err)
	defer lis.Close()

	errCh := make(chan error, 1)
	go func() {
		conn, err := lis.Accept()
		if err != nil {
			errCh <- err
			return
		}
		defer conn.Close()
		errCh <- conn.(*tls.Conn).Handshake()
	}()

	client, err := tls.Dial("tcp", lis.Addr().String(), clientCfg)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, <-errCh)

	peer := client.ConnectionState().PeerCertificates[0]
	assert.Equal(t, "coordinator-c1", peer.Subject.CommonName)
}
