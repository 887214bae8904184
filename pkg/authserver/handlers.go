package authserver

import "github.com/phemap/groupkey/pkg/wire"

// onTimerExpire is armed while in WaitStartConf (spec section 5). Expiry
// resets the AS to WaitStartReq without touching any key material; the
// caller is expected to retry from scratch.
func (a *AuthServer) onTimerExpire() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != WaitStartConf {
		return
	}
	a.log.Warnf("as %d: WaitStartConf timer expired", a.asID)
	a.state = WaitStartReq
}

// handleBootstrap implements spec section 4.4.1: the first START_SESS
// received in WaitStartReq, which distributes intra-group key shares to
// every enrolled device.
func (a *AuthServer) handleBootstrap(pkt []byte) wire.Ret {
	typ, reqID, link, err := wire.DecodeShort(pkt)
	if err != nil || typ != wire.StartSess {
		return a.reinit()
	}
	if !a.authenticate(reqID, link) {
		return a.reinit()
	}

	type share struct{ noise, sr, auth uint32 }
	perDevice := make(map[wire.Id]share, len(a.authDevs))

	var xorSr wire.Key
	for _, id := range a.authDevs {
		noise := uint32(a.chainSrc.NextLink(id))
		sr := uint32(a.chainSrc.NextLink(id))
		auth := uint32(a.chainSrc.NextLink(id))
		perDevice[id] = share{noise, sr, auth}
		a.srKey[id] = wire.Key(sr)
		xorSr ^= wire.Key(sr)
	}

	a.sessionNonce = wire.Nonce(a.rng.Next())
	a.secretToken = wire.Token(a.rng.Next())
	a.privateKey = xorSr ^ wire.Key(a.sessionNonce)

	a.pendingConf = make(map[wire.Id]bool, len(a.authDevs))
	a.pendingCount = 0

	for _, id := range a.authDevs {
		s := perDevice[id]
		shareVal := s.noise ^ uint32(a.privateKey) ^ s.sr
		stEnc := s.noise ^ uint32(a.secretToken)
		prefix := wire.EncodeLongPrefix(wire.StartPk, a.asID, shareVal, stEnc)
		sign := wire.KeyedSign(prefix, s.auth)
		a.publishUnicast(id, wire.EncodeLong(wire.StartPk, a.asID, shareVal, stEnc, sign))
		a.markPending(id)
	}

	a.state = WaitStartConf
	a.timer.Arm(a.onTimerExpire)
	a.log.Debugf("as %d: bootstrap install for %d device(s)", a.asID, len(a.authDevs))
	return wire.OK
}

// handleConfirmation implements spec section 4.4.2: PK_CONF (sent by a
// device after every START_PK, including a joiner's) or UPDATE_CONF
// confirmations, counted by pending_conf rather than
// arrival order. A confirmation for an Id without a pending bit is
// treated as a duplicate and drives REINIT.
func (a *AuthServer) handleConfirmation(pkt []byte, want wire.MsgType) wire.Ret {
	typ, reqID, link, err := wire.DecodeShort(pkt)
	if err != nil || typ != want {
		return a.reinit()
	}
	if _, ok := a.authIdx[reqID]; !ok {
		return a.reinit()
	}
	if a.chainSrc.NextLink(reqID) != link {
		return a.reinit()
	}
	if !a.pendingConf[reqID] {
		return a.reinit()
	}

	delete(a.pendingConf, reqID)
	a.pendingCount--
	if typ == wire.PkConf {
		a.groupMembers[reqID] = true
	}

	if a.pendingCount > 0 {
		return wire.OK
	}

	a.timer.Clear()
	if len(a.groupMembers) == 0 {
		a.state = WaitStartReq
		return wire.UpdateOK
	}

	a.state = WaitForUpdates
	if !a.pkInstalled {
		a.pkInstalled = true
		a.log.Debugf("as %d: INSTALL_OK (%d member(s))", a.asID, len(a.groupMembers))
		return wire.InstallOK
	}
	a.log.Debugf("as %d: UPDATE_OK (%d member(s))", a.asID, len(a.groupMembers))
	return wire.UpdateOK
}

// handleJoin implements spec section 4.4.3: a START_SESS received while
// in WaitForUpdates, rekeying existing members and onboarding the
// joiner.
func (a *AuthServer) handleJoin(pkt []byte) wire.Ret {
	typ, reqID, link, err := wire.DecodeShort(pkt)
	if err != nil || typ != wire.StartSess {
		return a.reinit()
	}
	if !a.authenticate(reqID, link) {
		return a.reinit()
	}

	srNoise := uint32(a.chainSrc.NextLink(reqID))
	srKeyVal := uint32(a.chainSrc.NextLink(reqID))
	hmacKey := uint32(a.chainSrc.NextLink(reqID))

	oldSessionNonce := a.sessionNonce
	oldSecretToken := a.secretToken
	oldKey := a.privateKey

	a.sessionNonce = wire.Nonce(a.rng.Next())
	a.secretToken = wire.Token(a.rng.Next())

	keyUpdate := uint32(a.sessionNonce) ^ uint32(oldSessionNonce) ^ srKeyVal
	a.privateKey ^= wire.Key(keyUpdate)
	a.srKey[reqID] = wire.Key(srKeyVal)

	// Broadcast UPDATE_KEY to existing members, signed with the PRE-join
	// secret token (the only key material every current member already
	// shares).
	encPk := uint32(oldKey) ^ uint32(a.privateKey)
	encSt := uint32(oldKey) ^ uint32(a.secretToken)
	prefixB := wire.EncodeLongPrefix(wire.UpdateKey, a.asID, encPk, encSt)
	signB := wire.KeyedSign(prefixB, uint32(oldSecretToken))
	a.publishBroadcast(wire.EncodeLong(wire.UpdateKey, a.asID, encPk, encSt, signB))

	// Unicast START_PK to the joiner, using its own chain links.
	shareVal := srNoise ^ uint32(a.privateKey) ^ srKeyVal
	stEnc := srNoise ^ uint32(a.secretToken)
	prefixU := wire.EncodeLongPrefix(wire.StartPk, a.asID, shareVal, stEnc)
	signU := wire.KeyedSign(prefixU, hmacKey)
	a.publishUnicast(reqID, wire.EncodeLong(wire.StartPk, a.asID, shareVal, stEnc, signU))
	a.markPending(reqID)

	a.state = WaitStartConf
	a.timer.Arm(a.onTimerExpire)
	a.log.Debugf("as %d: join request from %d", a.asID, reqID)
	return wire.OK
}

// handleLeave implements spec section 4.4.4: an END_SESS received while
// in WaitForUpdates. Remaining members are rekeyed unicast; no
// confirmation round is required (mirrors device.handleUpdate's
// no-confirmation design).
func (a *AuthServer) handleLeave(pkt []byte) wire.Ret {
	typ, reqID, link, err := wire.DecodeShort(pkt)
	if err != nil || typ != wire.EndSess {
		return a.reinit()
	}
	if !a.authenticate(reqID, link) {
		return a.reinit()
	}

	oldNonce := a.sessionNonce
	a.sessionNonce = wire.Nonce(a.rng.Next())
	a.secretToken = wire.Token(a.rng.Next())

	srKeyVal := a.srKey[reqID]
	updateKey := uint32(srKeyVal) ^ uint32(oldNonce) ^ uint32(a.sessionNonce)
	a.privateKey ^= wire.Key(updateKey)

	delete(a.groupMembers, reqID)

	for _, m := range a.authDevs {
		if m == reqID || !a.groupMembers[m] {
			continue
		}
		n1 := uint32(a.chainSrc.NextLink(m)) // noise
		n2 := uint32(a.chainSrc.NextLink(m)) // signing
		encKey := n1 ^ updateKey
		// Resolution of spec section 9 open question 1: enc_st is
		// secret_token XORed with noise, not uninitialised memory.
		encSt := uint32(a.secretToken) ^ n1
		prefix := wire.EncodeLongPrefix(wire.UpdateKey, a.asID, encKey, encSt)
		sign := wire.KeyedSign(prefix, n2)
		a.publishUnicast(m, wire.EncodeLong(wire.UpdateKey, a.asID, encKey, encSt, sign))
	}

	if len(a.groupMembers) == 0 {
		a.state = WaitStartReq
		a.timer.Clear()
	}
	a.log.Debugf("as %d: device %d left, %d member(s) remain", a.asID, reqID, len(a.groupMembers))
	return wire.UpdateOK
}
