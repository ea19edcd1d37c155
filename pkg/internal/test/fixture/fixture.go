/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package fixture builds documents, certificates and protocol data for tests.
package fixture

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"time"

	"github.com/idproof/proving-agent/pkg/circuit"
	"github.com/idproof/proving-agent/pkg/commitment"
	"github.com/idproof/proving-agent/pkg/document"
	"github.com/idproof/proving-agent/pkg/protocol"
)

// Secret is a holder secret.
const Secret = "1f2e3d4c5b6a79880112233445566778899aabbccddeeff00112233445566778"

const (
	// PassportMRZ is a TD3 machine readable zone.
	PassportMRZ = "P<UTOERIKSSON<<ANNA<MARIA<<<<<<<<<<<<<<<<<<<" +
		"L898902C36UTO7408122F1204159ZE184226B<<<<<10"
	// IDCardMRZ is a TD1 machine readable zone.
	IDCardMRZ = "I<UTOD231458907<<<<<<<<<<<<<<<" +
		"7408122F1204159UTO<<<<<<<<<<<6" +
		"ERIKSSON<<ANNA<MARIA<<<<<<<<<<"
)

// Chain is a CSCA and the DSC it issued.
type Chain struct {
	CSCA string
	DSC  string
}

// NewChain issues a fresh ECDSA P-256 CSCA and DSC.
func NewChain() (*Chain, error) {
	cscaKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	cscaTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(10),
		Subject:               pkix.Name{CommonName: "Utopia CSCA", Country: []string{"UT"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(365 * 24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}

	cscaDER, err := x509.CreateCertificate(rand.Reader, cscaTmpl, cscaTmpl, &cscaKey.PublicKey, cscaKey)
	if err != nil {
		return nil, err
	}

	csca, err := x509.ParseCertificate(cscaDER)
	if err != nil {
		return nil, err
	}

	dscKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	dscTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(11),
		Subject:      pkix.Name{CommonName: "Utopia DSC", Country: []string{"UT"}},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}

	dscDER, err := x509.CreateCertificate(rand.Reader, dscTmpl, csca, &dscKey.PublicKey, cscaKey)
	if err != nil {
		return nil, err
	}

	return &Chain{CSCA: toPEM(cscaDER), DSC: toPEM(dscDER)}, nil
}

func toPEM(der []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

// Document returns a document of category c issued by chain, with metadata filled.
func Document(id string, c document.Category, chain *Chain, mock bool) (*document.Document, error) {
	doc := &document.Document{
		ID:         id,
		Category:   c,
		Mock:       mock,
		EContent:   []byte("econtent-" + id),
		SignedAttr: []byte("signed-attr-" + id),
	}

	switch c {
	case document.Passport:
		doc.DG1 = []byte(PassportMRZ)
	case document.IDCard:
		doc.DG1 = []byte(IDCardMRZ)
	case document.Aadhaar:
		doc.DG1 = []byte("aadhaar-qr-" + id)

		return doc, nil
	}

	doc.DSC = chain.DSC
	doc.CSCA = chain.CSCA

	md, err := document.ParseMetadata(doc)
	if err != nil {
		return nil, err
	}

	doc.Metadata = md

	return doc, nil
}

// DataOption customizes protocol data.
type DataOption func(*dataOpts)

type dataOpts struct {
	dscRegistered bool
	committed     bool
	noEndpoint    bool
	noCircuits    bool
	ofac          bool
	alternative   map[string]string
	altCommitted  string
}

// WithDSCRegistered adds the document DSC to the DSC tree.
func WithDSCRegistered() DataOption {
	return func(o *dataOpts) {
		o.dscRegistered = true
	}
}

// WithCommitment adds the document commitment for Secret to the commitment tree.
func WithCommitment() DataOption {
	return func(o *dataOpts) {
		o.committed = true
	}
}

// WithoutEndpoint leaves the circuit DNS mapping empty.
func WithoutEndpoint() DataOption {
	return func(o *dataOpts) {
		o.noEndpoint = true
	}
}

// WithoutDeployedCircuits leaves the deployed circuit lists empty.
func WithoutDeployedCircuits() DataOption {
	return func(o *dataOpts) {
		o.noCircuits = true
	}
}

// WithOFAC adds empty sanction trees.
func WithOFAC() DataOption {
	return func(o *dataOpts) {
		o.ofac = true
	}
}

// WithAlternativeCSCA publishes an alternative CSCA. When committed, the commitment tree holds the
// document commitment computed against it.
func WithAlternativeCSCA(id, pemData string, committed bool) DataOption {
	return func(o *dataOpts) {
		if o.alternative == nil {
			o.alternative = make(map[string]string)
		}

		o.alternative[id] = pemData

		if committed {
			o.altCommitted = id
		}
	}
}

// Data builds protocol data for doc whose circuits are served at wsURL.
func Data(ctx context.Context, doc *document.Document, wsURL string, opts ...DataOption) (*protocol.Data, error) { // nolint:funlen,gocyclo,lll
	o := &dataOpts{}
	for _, opt := range opts {
		opt(o)
	}

	noise := []*big.Int{big.NewInt(7), big.NewInt(11), big.NewInt(13)}

	data := &protocol.Data{
		Environment:      protocol.EnvironmentFor(doc),
		Category:         doc.Category,
		DeployedCircuits: make(map[string][]string),
		DNSMapping:       make(map[string]map[string]string),
		AlternativeCSCA:  o.alternative,
	}

	dscLeaves := append([]*big.Int(nil), noise...)
	cscaLeaves := append([]*big.Int(nil), noise...)
	commitments := append([]*big.Int(nil), noise...)

	if doc.DSC != "" && o.dscRegistered {
		leaf, err := commitment.CertificateLeaf(doc.DSC)
		if err != nil {
			return nil, err
		}

		dscLeaves = append(dscLeaves, leaf)
	}

	if doc.CSCA != "" {
		leaf, err := commitment.CertificateLeaf(doc.CSCA)
		if err != nil {
			return nil, err
		}

		cscaLeaves = append(cscaLeaves, leaf)
	}

	if o.committed {
		leaf, err := commitment.Commitment([]byte(Secret), doc, doc.CSCA)
		if err != nil {
			return nil, err
		}

		commitments = append(commitments, leaf)
	}

	if o.altCommitted != "" {
		leaf, err := commitment.Commitment([]byte(Secret), doc, o.alternative[o.altCommitted])
		if err != nil {
			return nil, err
		}

		commitments = append(commitments, leaf)
	}

	var err error

	if data.DSCTree, err = protocol.NewTree(ctx, dscLeaves); err != nil {
		return nil, err
	}

	if data.CSCATree, err = protocol.NewTree(ctx, cscaLeaves); err != nil {
		return nil, err
	}

	if data.CommitmentTree, err = protocol.NewTree(ctx, commitments); err != nil {
		return nil, err
	}

	if o.ofac {
		data.OFAC = &protocol.OFACTrees{}

		for _, t := range []**protocol.Tree{
			&data.OFAC.PassportNoAndNationality, &data.OFAC.NameAndDOB, &data.OFAC.NameAndYOB,
		} {
			if *t, err = protocol.NewTree(ctx, noise); err != nil {
				return nil, err
			}
		}
	}

	for _, t := range []circuit.Type{circuit.Register, circuit.DSC, circuit.Disclose} {
		name, err := circuit.Name(t, doc)
		if err != nil {
			continue
		}

		key := circuit.MappingKey(t, doc.Category)

		if !o.noCircuits {
			data.DeployedCircuits[key] = append(data.DeployedCircuits[key], name)
		}

		if !o.noEndpoint {
			if data.DNSMapping[key] == nil {
				data.DNSMapping[key] = make(map[string]string)
			}

			data.DNSMapping[key][name] = wsURL
		}
	}

	return data, nil
}

// SecretBytes returns the holder secret.
func SecretBytes() []byte {
	return []byte(Secret)
}
