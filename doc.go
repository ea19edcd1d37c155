/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package provingagent is the client side of an identity-document proving protocol: it takes a scanned
// passport, ID card or Aadhaar record plus the holder secret and drives it to a verified zero-knowledge proof
// computed by a remote attested prover.
//
// Packages for end developer usage
//
// pkg/proving: The orchestrator. A Service owns one proving session at a time and walks it through
// document validation, the attested channel handshake, encrypted submission and status tracking.
//
// pkg/store/document, pkg/store/secret: Document and holder secret collaborators backed by a storage provider.
//
// pkg/protocol/httpstore: Fetches Merkle trees and circuit metadata from a tree server.
//
// Basic workflow
//
//      1) Create the storage-backed document and secret stores.
//      2) Create a protocol store and a nullifier registry client.
//      3) Create a proving.Service with those collaborators.
//      4) Register a state channel, then call Init with the circuit type.
//      5) Call Close() to release transports and key material.
package provingagent
