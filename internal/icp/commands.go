package icp

import "fmt"

// The command layer assumes the session is in programming mode. The bus has
// no host-visible handshake for "wrong state", so nothing here re-checks it;
// issuing a command outside programming mode yields undefined target
// behavior, exactly as on real silicon.

// ReadDeviceID reads the 2-byte device ID (0x3650 for the N76E003).
func (s *Session) ReadDeviceID() (uint32, error) {
	if s.handle == nil {
		return 0, ErrNotInitialized
	}
	s.sendCommand(CmdReadDeviceID, 0)
	lo := s.readByte(false)
	hi := s.readByte(true)
	return uint32(hi)<<8 | uint32(lo), s.io.Err()
}

// ReadPID reads the product ID variant of the device-id command.
func (s *Session) ReadPID() (uint32, error) {
	if s.handle == nil {
		return 0, ErrNotInitialized
	}
	s.sendCommand(CmdReadDeviceID, pidArg)
	lo := s.readByte(false)
	hi := s.readByte(true)
	return uint32(hi)<<8 | uint32(lo), s.io.Err()
}

// ReadCID reads the 1-byte company/customer ID. A locked target reads back
// 0xFF here until it is re-entered.
func (s *Session) ReadCID() (byte, error) {
	if s.handle == nil {
		return 0, ErrNotInitialized
	}
	s.sendCommand(CmdReadCID, 0)
	return s.readByte(true), s.io.Err()
}

// ReadUID reads the 12-byte unique device ID, one indexed command per byte.
func (s *Session) ReadUID() ([]byte, error) {
	if s.handle == nil {
		return nil, ErrNotInitialized
	}
	buf := make([]byte, UIDLen)
	for i := range buf {
		s.sendCommand(CmdReadUID, uint32(i))
		buf[i] = s.readByte(true)
	}
	return buf, s.io.Err()
}

// ReadUCID reads the 16-byte unique customer ID.
func (s *Session) ReadUCID() ([]byte, error) {
	if s.handle == nil {
		return nil, ErrNotInitialized
	}
	buf := make([]byte, UCIDLen)
	for i := range buf {
		s.sendCommand(CmdReadUID, uint32(i)+ucidOffset)
		buf[i] = s.readByte(true)
	}
	return buf, s.io.Err()
}

// ReadFlash streams n bytes starting at addr. The target advances its own
// address counter; the host acknowledges each byte and closes the command
// with the end bit on the last one. Either the full buffer comes back or an
// error does; there is no partial result.
func (s *Session) ReadFlash(addr uint32, n int) ([]byte, error) {
	if s.handle == nil {
		return nil, ErrNotInitialized
	}
	if n <= 0 {
		return nil, ErrReadLength
	}
	s.sendCommand(CmdReadFlash, addr)
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = s.readByte(i == n-1)
		s.reportProgress(i+1, n)
	}
	if err := s.io.Err(); err != nil {
		return nil, fmt.Errorf("icp: read flash at 0x%X: %w", addr, err)
	}
	return buf, nil
}

// WriteFlash programs data starting at addr and returns the target's status
// byte: 0 means accepted, anything else is a target-side rejection (locked
// or non-erased destination). The destination must already be erased; the
// engine never erases or retries on its own.
func (s *Session) WriteFlash(addr uint32, data []byte) (byte, error) {
	if s.handle == nil {
		return 0, ErrNotInitialized
	}
	if len(data) == 0 {
		return 0, nil
	}
	s.sendCommand(CmdWriteFlash, addr)
	for i, b := range data {
		s.writeByte(b, i == len(data)-1, programTimeMicros, 5)
		s.reportProgress(i+1, len(data))
	}
	status := s.readByte(true)
	if err := s.io.Err(); err != nil {
		return status, fmt.Errorf("icp: write flash at 0x%X: %w", addr, err)
	}
	return status, nil
}

// MassErase erases the entire flash array, config block included. Blocks
// for the full erase cycle; the target cannot report "still busy", so no
// command may be issued before this returns.
func (s *Session) MassErase() error {
	if s.handle == nil {
		return ErrNotInitialized
	}
	s.sendCommand(CmdMassErase, MassEraseKey)
	s.writeByte(0xFF, true, massEraseMicros, 500)
	return s.io.Err()
}

// PageErase erases the flash page containing addr. Same blocking contract
// as MassErase.
func (s *Session) PageErase(addr uint32) error {
	if s.handle == nil {
		return ErrNotInitialized
	}
	s.sendCommand(CmdPageErase, addr)
	s.writeByte(0xFF, true, pageEraseMicros, 100)
	return s.io.Err()
}
