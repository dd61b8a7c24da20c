package jwt

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"strings"
)

// NormalizeKey returns a stable encoding of key material: PEM armour and
// whitespace are removed, leaving the base64 DER body. Two spellings of the
// same key bytes normalize to the same string.
func NormalizeKey(material string) string {
	material = strings.TrimSpace(material)
	if block, _ := pem.Decode([]byte(material)); block != nil {
		return base64.StdEncoding.EncodeToString(block.Bytes)
	}
	return strings.Join(strings.Fields(material), "")
}

// decodeKey returns the DER bytes of PEM or base64 DER key material.
func decodeKey(material string) ([]byte, error) {
	material = strings.TrimSpace(material)
	if material == "" {
		return nil, ErrKeyMaterialAbsent
	}
	if block, _ := pem.Decode([]byte(material)); block != nil {
		return block.Bytes, nil
	}
	der, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(material), ""))
	if err != nil {
		return nil, NewKeyError(0, "key is neither PEM nor base64 DER", ErrInvalidKey)
	}
	return der, nil
}

// ParsePublicKey parses an RSA public key from PEM (PUBLIC KEY or
// RSA PUBLIC KEY) or base64 DER SubjectPublicKeyInfo.
func ParsePublicKey(material string) (*rsa.PublicKey, error) {
	der, err := decodeKey(material)
	if err != nil {
		return nil, err
	}

	if pub, err := x509.ParsePKIXPublicKey(der); err == nil {
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, NewKeyError(0, "public key is not RSA", ErrInvalidKey)
		}
		return rsaPub, nil
	}
	if rsaPub, err := x509.ParsePKCS1PublicKey(der); err == nil {
		return rsaPub, nil
	}
	return nil, NewKeyError(0, "failed to parse public key", ErrInvalidKey)
}

// ParsePrivateKey parses an RSA private key from PEM (PRIVATE KEY or
// RSA PRIVATE KEY) or base64 DER PKCS#8.
func ParsePrivateKey(material string) (*rsa.PrivateKey, error) {
	der, err := decodeKey(material)
	if err != nil {
		return nil, err
	}

	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, NewKeyError(0, "private key is not RSA", ErrInvalidKey)
		}
		return rsaKey, nil
	}
	if rsaKey, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return rsaKey, nil
	}
	return nil, NewKeyError(0, "failed to parse private key", ErrInvalidKey)
}
