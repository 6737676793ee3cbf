package httpengine

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"strings"
	"time"
)

// CertInfo is the subset of peer certificate detail surfaced to the
// control plane (spec.md §4.E "Connector").
type CertInfo struct {
	IssuerC, IssuerO, IssuerCN string
	SubjectCN                  string
	SubjectAltName             string
	ValidFrom, ValidTo         string // ISO-8601
	KeyType                    string // "EC" or "RSA"
	KeyBits                    int
	Serial                     string // colon-separated hex
	Fingerprint256             string
	PublicKeyHex               string
}

// ExtractCertInfo builds a CertInfo from the TLS connection's negotiated
// peer certificate, or ok=false if the handshake exposed none.
func ExtractCertInfo(cs tls.ConnectionState) (CertInfo, bool) {
	if len(cs.PeerCertificates) == 0 {
		return CertInfo{}, false
	}
	cert := cs.PeerCertificates[0]

	var info CertInfo
	info.IssuerCN = cert.Issuer.CommonName
	if len(cert.Issuer.Country) > 0 {
		info.IssuerC = cert.Issuer.Country[0]
	}
	if len(cert.Issuer.Organization) > 0 {
		info.IssuerO = cert.Issuer.Organization[0]
	}
	info.SubjectCN = cert.Subject.CommonName
	info.SubjectAltName = strings.Join(cert.DNSNames, ", ")
	info.ValidFrom = cert.NotBefore.UTC().Format(time.RFC3339)
	info.ValidTo = cert.NotAfter.UTC().Format(time.RFC3339)
	info.Serial = colonHex(cert.SerialNumber.Bytes())
	sum := sha256.Sum256(cert.Raw)
	info.Fingerprint256 = colonHex(sum[:])
	info.KeyType = keyTypeOf(cert)
	info.KeyBits, info.PublicKeyHex = keyDetailsOf(cert)

	return info, true
}

func keyTypeOf(cert *x509.Certificate) string {
	switch cert.PublicKey.(type) {
	case *ecdsa.PublicKey:
		return "EC"
	default:
		return "RSA"
	}
}

// keyDetailsOf returns the public key's bit length and a hex dump of its
// raw key material (X for EC, modulus N for RSA), matching the fields a
// TLS peer certificate inspection tool like openssl x509 -text exposes.
func keyDetailsOf(cert *x509.Certificate) (bits int, hexKey string) {
	switch pub := cert.PublicKey.(type) {
	case *ecdsa.PublicKey:
		return pub.Curve.Params().BitSize, hex.EncodeToString(pub.X.Bytes())
	case *rsa.PublicKey:
		return pub.N.BitLen(), hex.EncodeToString(pub.N.Bytes())
	default:
		return 0, ""
	}
}

func colonHex(b []byte) string {
	h := hex.EncodeToString(b)
	var parts []string
	for i := 0; i < len(h); i += 2 {
		end := i + 2
		if end > len(h) {
			end = len(h)
		}
		parts = append(parts, h[i:end])
	}
	return strings.ToUpper(strings.Join(parts, ":"))
}
