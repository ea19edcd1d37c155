/*
Copyright SecureKey Technologies Inc. All Rights Reserved.
SPDX-License-Identifier: Apache-2.0
*/

package document

import (
	"errors"
	"fmt"

	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/idproof/proving-agent/pkg/document"
)

const (
	// NameSpace for document store.
	NameSpace = "documentstore"

	documentTag       = "document"
	documentKeyPrefix = "doc_"
	selectedKey       = "selected_document"
)

var logger = log.New("proving-agent/store/document")

// Store persists the holder's documents and tracks the selected one.
type Store struct {
	store storage.Store
}

type provider interface {
	StorageProvider() storage.Provider
}

// New returns a new document store.
func New(ctx provider) (*Store, error) {
	store, err := ctx.StorageProvider().OpenStore(NameSpace)
	if err != nil {
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}

	err = ctx.StorageProvider().SetStoreConfig(NameSpace, storage.StoreConfiguration{TagNames: []string{documentTag}})
	if err != nil {
		return nil, fmt.Errorf("failed to set store configuration: %w", err)
	}

	return &Store{store: store}, nil
}

// Save stores a document. The first saved document becomes the selected one.
func (s *Store) Save(doc *document.Document) error {
	if doc == nil {
		return errors.New("document is mandatory")
	}

	if err := doc.Validate(); err != nil {
		return err
	}

	docBytes, err := doc.JSONBytes()
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	if err := s.store.Put(documentKey(doc.ID), docBytes, storage.Tag{Name: documentTag}); err != nil {
		return fmt.Errorf("failed to put document: %w", err)
	}

	_, err = s.store.Get(selectedKey)
	if errors.Is(err, storage.ErrDataNotFound) {
		return s.Select(doc.ID)
	}

	return err
}

// Get retrieves a document by id.
func (s *Store) Get(id string) (*document.Document, error) {
	docBytes, err := s.store.Get(documentKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc, err := document.Parse(docBytes)
	if err != nil {
		return nil, fmt.Errorf("unmarshalling document failed: %w", err)
	}

	return doc, nil
}

// Select marks the stored document id as the one proofs are generated for.
func (s *Store) Select(id string) error {
	if _, err := s.store.Get(documentKey(id)); err != nil {
		return fmt.Errorf("select document %s: %w", id, err)
	}

	if err := s.store.Put(selectedKey, []byte(id)); err != nil {
		return fmt.Errorf("store selected document: %w", err)
	}

	return nil
}

// LoadSelectedDocument returns the selected document, or nil when there is none.
func (s *Store) LoadSelectedDocument() (*document.Document, error) {
	id, err := s.store.Get(selectedKey)
	if errors.Is(err, storage.ErrDataNotFound) {
		return nil, nil // nolint:nilnil
	}

	if err != nil {
		return nil, fmt.Errorf("fetch selected document id: %w", err)
	}

	doc, err := s.Get(string(id))
	if errors.Is(err, storage.ErrDataNotFound) {
		logger.Warnf("selected document %s no longer stored", string(id))

		return nil, nil // nolint:nilnil
	}

	return doc, err
}

// MarkRegistered flags the document as registered.
func (s *Store) MarkRegistered(id string) error {
	doc, err := s.Get(id)
	if err != nil {
		return err
	}

	doc.Registered = true

	return s.Save(doc)
}

// Clear deletes the selected document and the selection.
func (s *Store) Clear() error {
	id, err := s.store.Get(selectedKey)
	if errors.Is(err, storage.ErrDataNotFound) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("fetch selected document id: %w", err)
	}

	if err := s.store.Delete(documentKey(string(id))); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	if err := s.store.Delete(selectedKey); err != nil {
		return fmt.Errorf("delete document selection: %w", err)
	}

	logger.Debugf("cleared selected document %s", string(id))

	return nil
}

// Documents returns the ids of all stored documents.
func (s *Store) Documents() ([]string, error) {
	itr, err := s.store.Query(documentTag)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}

	defer func() {
		errClose := itr.Close()
		if errClose != nil {
			logger.Errorf("failed to close iterator: %s", errClose.Error())
		}
	}()

	var ids []string

	more, err := itr.Next()
	if err != nil {
		return nil, err
	}

	for more {
		key, err := itr.Key()
		if err != nil {
			return nil, err
		}

		ids = append(ids, key[len(documentKeyPrefix):])

		more, err = itr.Next()
		if err != nil {
			return nil, err
		}
	}

	return ids, nil
}

func documentKey(id string) string {
	return documentKeyPrefix + id
}
