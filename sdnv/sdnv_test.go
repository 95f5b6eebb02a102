package sdnv

import "testing"

func TestEncodeDecodeUint32RoundTrip(t *testing.T) {
	values := []uint32{0, 1, 127, 128, 16383, 16384, 1 << 20, 1<<32 - 1}

	for _, v := range values {
		buf := make([]byte, MaxLen32)
		n, err := EncodeUint32(v, buf)
		if err != nil {
			t.Fatalf("EncodeUint32(%d): %v", v, err)
		}
		if n != Len32(v) {
			t.Errorf("EncodeUint32(%d) wrote %d bytes, Len32 predicted %d", v, n, Len32(v))
		}

		var out uint32
		consumed, err := DecodeUint32(buf[:n], &out)
		if err != nil {
			t.Fatalf("DecodeUint32(%d): %v", v, err)
		}
		if consumed != n {
			t.Errorf("DecodeUint32(%d) consumed %d bytes, wanted %d", v, consumed, n)
		}
		if out != v {
			t.Errorf("round trip of %d produced %d", v, out)
		}
	}
}

func TestEncodeMaxUint32Is5Bytes(t *testing.T) {
	buf := make([]byte, MaxLen32)
	n, err := EncodeUint32(0xFFFFFFFF, buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("encoding 0xFFFFFFFF took %d bytes, want 5", n)
	}
}

func TestEncodeZeroIsOneByte(t *testing.T) {
	buf := make([]byte, MaxLen32)
	n, err := EncodeUint32(0, buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("encoding 0 took %d bytes, want 1", n)
	}
}

func TestDecodeOverLengthFails(t *testing.T) {
	// Six bytes, all continuation bits set: never terminates within MaxLen32.
	buf := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80}

	var out uint32
	if _, err := DecodeUint32(buf, &out); err != ErrMalformed {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestEncodeBufferTooSmall(t *testing.T) {
	buf := make([]byte, 1)
	if _, err := EncodeUint32(1<<20, buf); err != ErrBufferTooSmall {
		t.Errorf("expected ErrBufferTooSmall, got %v", err)
	}
}

func TestEncodeUint64RoundTrip(t *testing.T) {
	values := []uint64{0, 1, 1 << 40, 1<<64 - 1}

	for _, v := range values {
		buf := make([]byte, MaxLen64)
		n, err := EncodeUint64(v, buf)
		if err != nil {
			t.Fatalf("EncodeUint64(%d): %v", v, err)
		}

		var out uint64
		if _, err := DecodeUint64(buf[:n], &out); err != nil {
			t.Fatalf("DecodeUint64(%d): %v", v, err)
		}
		if out != v {
			t.Errorf("round trip of %d produced %d", v, out)
		}
	}
}
