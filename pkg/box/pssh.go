package box

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// SystemIDs of the common DRM systems
var (
	SystemIDPlayReady = uuid.MustParse("9a04f079-9840-4286-ab92-e65be0885f95")
	SystemIDWidevine  = uuid.MustParse("edef8ba9-79d6-4ace-a3c8-27dcd51d21ed")
	SystemIDFairPlay  = uuid.MustParse("94ce86fb-07ff-4f43-adb8-93d2fa968ca2")
	SystemIDCommon    = uuid.MustParse("1077efec-c0b2-4d02-ace3-3c1e52e2fb4b")
)

// PsshBox - Protection System Specific Header Box
// Defined in ISO/IEC 23001-7 Section 8.1
type PsshBox struct {
	FullBox
	SystemID uuid.UUID
	KIDs     [][16]byte
	Data     []byte
}

func DecodePssh(payload []byte) (*PsshBox, error) {
	pssh := &PsshBox{}
	n, err := pssh.FullBox.Decode(payload)
	if err != nil {
		return nil, err
	}
	if err = need(payload, n+16, "pssh system id"); err != nil {
		return nil, err
	}
	copy(pssh.SystemID[:], payload[n:n+16])
	n += 16
	if pssh.Version > 0 {
		if err = need(payload, n+4, "pssh kid count"); err != nil {
			return nil, err
		}
		kidCount := int(binary.BigEndian.Uint32(payload[n:]))
		n += 4
		if err = need(payload, n+16*kidCount, "pssh kids"); err != nil {
			return nil, err
		}
		for i := 0; i < kidCount; i++ {
			var kid [16]byte
			copy(kid[:], payload[n:n+16])
			n += 16
			pssh.KIDs = append(pssh.KIDs, kid)
		}
	}
	if err = need(payload, n+4, "pssh data size"); err != nil {
		return nil, err
	}
	dataLen := int(binary.BigEndian.Uint32(payload[n:]))
	n += 4
	if err = need(payload, n+dataLen, "pssh data"); err != nil {
		return nil, err
	}
	pssh.Data = payload[n : n+dataLen]
	return pssh, nil
}

func (pssh *PsshBox) IsWidevine() bool {
	return pssh.SystemID == SystemIDWidevine
}

func (pssh *PsshBox) IsPlayReady() bool {
	return pssh.SystemID == SystemIDPlayReady
}

func (pssh *PsshBox) IsFairPlay() bool {
	return pssh.SystemID == SystemIDFairPlay
}

func (pssh *PsshBox) SystemName() string {
	switch pssh.SystemID {
	case SystemIDWidevine:
		return "widevine"
	case SystemIDPlayReady:
		return "playready"
	case SystemIDFairPlay:
		return "fairplay"
	case SystemIDCommon:
		return "common"
	}
	return pssh.SystemID.String()
}
