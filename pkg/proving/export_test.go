/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package proving

// ChainCurrent runs the dsc to register switch of the current session.
func ChainCurrent(s *Service) {
	s.chain(s.session())
}
