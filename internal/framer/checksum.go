package framer

// crc16 computes CRC-16/Modbus (poly 0xA001 reflected, init 0xFFFF).
// The result is transmitted low byte first.
func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for range 8 {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// lrc computes the Modbus ASCII longitudinal redundancy check.
func lrc(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return -sum
}
