/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package payload

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/idproof/proving-agent/pkg/circuit"
	"github.com/idproof/proving-agent/pkg/commitment"
	"github.com/idproof/proving-agent/pkg/document"
	"github.com/idproof/proving-agent/pkg/protocol"
)

const maxForbiddenCountries = 40

var (
	// ErrDSCTreeMissing is returned when a register proof is built without the DSC tree.
	ErrDSCTreeMissing = errors.New("dsc tree not loaded")
	// ErrCSCATreeMissing is returned when a dsc proof is built without the CSCA tree.
	ErrCSCATreeMissing = errors.New("csca tree not loaded")
	// ErrCommitmentTreeMissing is returned when a disclose proof is built without the commitment tree.
	ErrCommitmentTreeMissing = errors.New("commitment tree not loaded")
	// ErrOFACTreesMissing is returned when a sanction screened disclosure is built without the OFAC trees.
	ErrOFACTreesMissing = errors.New("ofac trees not loaded")
	// ErrMissingCSCA is returned when the document carries no CSCA certificate.
	ErrMissingCSCA = errors.New("document has no csca certificate")
)

// Input is what input generators read.
type Input struct {
	Document   *document.Document
	Secret     []byte
	Data       *protocol.Data
	Disclosure *DisclosureRequest
	// Resolver serves trees to disclose generators. Defaults to the trees of Data.
	Resolver Resolver
	Now      time.Time
}

// Resolver looks trees up on demand.
type Resolver interface {
	CommitmentTree() (*protocol.Tree, error)
	OFACTrees() (*protocol.OFACTrees, error)
}

// DataResolver resolves trees from fetched protocol data.
type DataResolver struct {
	Data *protocol.Data
}

// CommitmentTree returns the identity commitment tree.
func (r DataResolver) CommitmentTree() (*protocol.Tree, error) {
	if r.Data == nil || r.Data.CommitmentTree == nil {
		return nil, ErrCommitmentTreeMissing
	}

	return r.Data.CommitmentTree, nil
}

// OFACTrees returns the sanction trees.
func (r DataResolver) OFACTrees() (*protocol.OFACTrees, error) {
	if r.Data == nil || r.Data.OFAC == nil {
		return nil, ErrOFACTreesMissing
	}

	o := r.Data.OFAC
	if o.PassportNoAndNationality == nil || o.NameAndDOB == nil || o.NameAndYOB == nil {
		return nil, ErrOFACTreesMissing
	}

	return o, nil
}

// Generator produces circuit inputs.
type Generator func(ctx context.Context, in *Input) (map[string]interface{}, error)

type generatorKey struct {
	t circuit.Type
	c document.Category
}

func defaultGenerators() map[generatorKey]Generator {
	return map[generatorKey]Generator{
		{circuit.Register, document.Passport}: registerInputs,
		{circuit.Register, document.IDCard}:   registerInputs,
		{circuit.Register, document.Aadhaar}:  registerAadhaarInputs,
		{circuit.DSC, document.Passport}:      dscInputs,
		{circuit.DSC, document.IDCard}:        dscInputs,
		{circuit.Disclose, document.Passport}: discloseInputs,
		{circuit.Disclose, document.IDCard}:   discloseInputs,
		{circuit.Disclose, document.Aadhaar}:  discloseInputs,
	}
}

// CSCAFor returns the CSCA certificate the document was registered under.
func CSCAFor(doc *document.Document, data *protocol.Data) string {
	if doc.CSCAID != "" && data != nil {
		if pem, ok := data.AlternativeCSCA[doc.CSCAID]; ok {
			return pem
		}
	}

	return doc.CSCA
}

func registerInputs(ctx context.Context, in *Input) (map[string]interface{}, error) {
	if in.Data == nil || in.Data.DSCTree == nil {
		return nil, ErrDSCTreeMissing
	}

	doc := in.Document

	if doc.DSC == "" {
		return nil, document.ErrMissingDSC
	}

	base, err := baseInputs(in)
	if err != nil {
		return nil, err
	}

	dscLeaf, err := commitment.CertificateLeaf(doc.DSC)
	if err != nil {
		return nil, err
	}

	proof, err := in.Data.DSCTree.Proof(ctx, dscLeaf)
	if err != nil {
		return nil, err
	}

	der, err := document.CertificateDER(doc.DSC)
	if err != nil {
		return nil, err
	}

	base["eContent"] = byteInputs(doc.EContent)
	base["signed_attr"] = byteInputs(doc.SignedAttr)
	base["dsc"] = byteInputs(der)
	base["dsc_leaf"] = dscLeaf.String()
	base["merkle_root"] = proof.Root.String()
	base["path"] = bigInputs(proof.Siblings)

	return base, nil
}

func registerAadhaarInputs(_ context.Context, in *Input) (map[string]interface{}, error) {
	base, err := baseInputs(in)
	if err != nil {
		return nil, err
	}

	base["qr_data"] = base["dg1"]
	delete(base, "dg1")

	return base, nil
}

func dscInputs(ctx context.Context, in *Input) (map[string]interface{}, error) {
	if in.Data == nil || in.Data.CSCATree == nil {
		return nil, ErrCSCATreeMissing
	}

	doc := in.Document

	cscaPEM := CSCAFor(doc, in.Data)
	if cscaPEM == "" {
		return nil, ErrMissingCSCA
	}

	if doc.DSC == "" {
		return nil, document.ErrMissingDSC
	}

	cscaLeaf, err := commitment.CertificateLeaf(cscaPEM)
	if err != nil {
		return nil, err
	}

	proof, err := in.Data.CSCATree.Proof(ctx, cscaLeaf)
	if err != nil {
		return nil, err
	}

	rawCSCA, err := document.CertificateDER(cscaPEM)
	if err != nil {
		return nil, err
	}

	rawDSC, err := document.CertificateDER(doc.DSC)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"raw_csca":    byteInputs(rawCSCA),
		"raw_dsc":     byteInputs(rawDSC),
		"csca_leaf":   cscaLeaf.String(),
		"merkle_root": proof.Root.String(),
		"path":        bigInputs(proof.Siblings),
	}, nil
}

func discloseInputs(ctx context.Context, in *Input) (map[string]interface{}, error) { // nolint:funlen
	doc := in.Document
	req := in.Disclosure

	resolver := in.Resolver
	if resolver == nil {
		resolver = DataResolver{Data: in.Data}
	}

	tree, err := resolver.CommitmentTree()
	if err != nil {
		return nil, err
	}

	base, err := baseInputs(in)
	if err != nil {
		return nil, err
	}

	leaf, err := commitment.Commitment(in.Secret, doc, CSCAFor(doc, in.Data))
	if err != nil {
		return nil, err
	}

	proof, err := tree.Proof(ctx, leaf)
	if err != nil {
		return nil, err
	}

	scope, err := commitment.HashBytes([]byte(req.Scope))
	if err != nil {
		return nil, err
	}

	userID, err := commitment.HashBytes([]byte(req.UserID))
	if err != nil {
		return nil, err
	}

	forbidden, err := forbiddenCountries(req.ExcludedCountries)
	if err != nil {
		return nil, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	base["merkle_root"] = proof.Root.String()
	base["path"] = bigInputs(proof.Siblings)
	base["scope"] = scope.String()
	base["user_identifier"] = userID.String()
	base["current_date"] = digitInputs(now.UTC().Format("060102"))
	base["minimum_age"] = strconv.Itoa(req.MinimumAge)
	base["forbidden_countries_list"] = forbidden
	base["selector_dg1"] = selector(doc, req.Disclose)
	base["selector_ofac"] = "0"

	if req.OFAC {
		ofac, err := ofacInputs(ctx, doc, resolver)
		if err != nil {
			return nil, err
		}

		for k, v := range ofac {
			base[k] = v
		}

		base["selector_ofac"] = "1"
	}

	return base, nil
}

func ofacInputs(ctx context.Context, doc *document.Document, resolver Resolver) (map[string]interface{}, error) {
	if doc.Category == document.Aadhaar {
		return nil, errors.New("ofac screening is not available for aadhaar documents")
	}

	trees, err := resolver.OFACTrees()
	if err != nil {
		return nil, err
	}

	fields, err := doc.Fields()
	if err != nil {
		return nil, err
	}

	out := make(map[string]interface{})

	lookups := []struct {
		prefix string
		tree   *protocol.Tree
		parts  []string
	}{
		{"ofac_namedob", trees.NameAndDOB, []string{fields.Name, fields.DateOfBirth}},
		{"ofac_nameyob", trees.NameAndYOB, []string{fields.Name, fields.YearOfBirth()}},
	}

	if doc.Category == document.Passport {
		lookups = append(lookups, struct {
			prefix string
			tree   *protocol.Tree
			parts  []string
		}{"ofac_passportno", trees.PassportNoAndNationality, []string{fields.DocumentNumber, fields.Nationality}})
	}

	for _, l := range lookups {
		key, err := commitment.Key(l.parts...)
		if err != nil {
			return nil, err
		}

		p, err := l.tree.Proof(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("%s proof: %w", l.prefix, err)
		}

		out[l.prefix+"_root"] = p.Root.String()
		out[l.prefix+"_path"] = bigInputs(p.Siblings)
	}

	return out, nil
}

func baseInputs(in *Input) (map[string]interface{}, error) {
	secret, err := commitment.Secret(in.Secret)
	if err != nil {
		return nil, err
	}

	attID, err := circuit.Attestation(in.Document.Category)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"secret":         secret.String(),
		"attestation_id": strconv.Itoa(int(attID)),
		"dg1":            byteInputs(in.Document.DG1),
	}, nil
}

type span struct{ start, end int }

var attributeSpans = map[document.Category]map[Attribute]span{
	document.Passport: {
		IssuingState:   {2, 5},
		Name:           {5, 44},
		DocumentNumber: {44, 53},
		Nationality:    {54, 57},
		DateOfBirth:    {57, 63},
		Gender:         {64, 65},
		ExpiryDate:     {65, 71},
	},
	document.IDCard: {
		IssuingState:   {2, 5},
		DocumentNumber: {5, 14},
		DateOfBirth:    {30, 36},
		Gender:         {37, 38},
		ExpiryDate:     {38, 44},
		Nationality:    {45, 48},
		Name:           {60, 90},
	},
}

// selector marks the DG1 positions of the disclosed attributes.
func selector(doc *document.Document, attrs []Attribute) []string {
	out := make([]string, len(doc.DG1))
	for i := range out {
		out[i] = "0"
	}

	spans := attributeSpans[doc.Category]

	for _, a := range attrs {
		s, ok := spans[a]
		if !ok {
			continue
		}

		for i := s.start; i < s.end && i < len(out); i++ {
			out[i] = "1"
		}
	}

	return out
}

func forbiddenCountries(codes []string) ([]string, error) {
	if len(codes) > maxForbiddenCountries {
		return nil, fmt.Errorf("at most %d excluded countries are supported", maxForbiddenCountries)
	}

	out := make([]string, 0, len(codes))

	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if len(c) != 3 {
			return nil, fmt.Errorf("invalid country code %q", c)
		}

		out = append(out, c)
	}

	return out, nil
}

func byteInputs(b []byte) []string {
	out := make([]string, len(b))
	for i, v := range b {
		out[i] = strconv.Itoa(int(v))
	}

	return out
}

func bigInputs(v []*big.Int) []string {
	out := make([]string, len(v))
	for i, b := range v {
		out[i] = b.String()
	}

	return out
}

func digitInputs(s string) []string {
	out := make([]string, len(s))
	for i, r := range s {
		out[i] = string(r)
	}

	return out
}
