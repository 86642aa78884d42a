package attestation

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selfSignedCert(t *testing.T) *x509.Certificate {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "e3.example"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestQuote_RoundTrip(t *testing.T) {
	key := []byte("test-signing-key")
	doc := Document{
		UniqueID:        "aa11",
		SignerID:        "bb22",
		ProductID:       1,
		SecurityVersion: 1,
		Timestamp:       time.Unix(1700000000, 0),
	}
	report := []byte("report-data")

	quote := GenerateQuote(doc, report, key)
	got, err := VerifyQuote(quote, key)
	require.NoError(t, err)

	assert.Equal(t, doc.UniqueID, got.Document.UniqueID)
	assert.Equal(t, doc.SignerID, got.Document.SignerID)
	assert.Equal(t, doc.ProductID, got.Document.ProductID)
	assert.Equal(t, report, got.ReportData)
}

func TestQuote_TamperedSignatureRejected(t *testing.T) {
	key := []byte("test-signing-key")
	doc := Document{UniqueID: "aa11", SignerID: "bb22", Timestamp: time.Now()}
	quote := GenerateQuote(doc, []byte("x"), key)
	quote[len(quote)-1] ^= 0xFF

	_, err := VerifyQuote(quote, key)
	assert.Error(t, err)
}

func TestTrustStore_RejectsUnboundCertificate(t *testing.T) {
	store := NewTrustStore("", "")
	cert := selfSignedCert(t)

	err := store.VerifyLeafBinding(cert)
	assert.Error(t, err)
}

func TestTrustStore_AcceptsRegisteredCertificate(t *testing.T) {
	store := NewTrustStore("aa11", "bb22")
	cert := selfSignedCert(t)

	require.NoError(t, store.Register(cert, Document{UniqueID: "aa11", SignerID: "bb22"}))
	assert.NoError(t, store.VerifyLeafBinding(cert))
}

func TestTrustStore_RejectsMeasurementMismatch(t *testing.T) {
	store := NewTrustStore("expected-unique", "expected-signer")
	cert := selfSignedCert(t)

	err := store.Register(cert, Document{UniqueID: "wrong-unique", SignerID: "expected-signer"})
	assert.Error(t, err)

	// Never registered, so still unbound.
	assert.Error(t, store.VerifyLeafBinding(cert))
}
