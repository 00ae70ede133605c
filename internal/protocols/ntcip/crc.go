package ntcip

// crc16 is CRC-16/CCITT-FALSE: polynomial 0x1021, initial value 0xFFFF.
func crc16(data ...[]byte) uint16 {
	crc := uint16(0xFFFF)
	for _, chunk := range data {
		for _, b := range chunk {
			crc ^= uint16(b) << 8
			for range 8 {
				if crc&0x8000 != 0 {
					crc = crc<<1 ^ 0x1021
				} else {
					crc <<= 1
				}
			}
		}
	}
	return crc
}

// MessageCRC is the checksum a sign reports for a message: the MULTI
// string followed by the beacon and pixel service flags.
func MessageCRC(multi string, beacon, pixelService bool) uint16 {
	return crc16([]byte(multi), []byte{flag(beacon), flag(pixelService)})
}

func flag(b bool) byte {
	if b {
		return 1
	}
	return 0
}
