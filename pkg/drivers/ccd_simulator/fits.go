package ccd_simulator

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

const fitsBlock = 2880

type frameInfo struct {
	Width       int
	Height      int
	Exposure    float64
	Gain        float64
	Offset      float64
	Temperature float64
	Date        time.Time
}

func fitsCard(buf *bytes.Buffer, key, value, comment string) {
	card := fmt.Sprintf("%-8s= %20s", key, value)
	if comment != "" {
		card += " / " + comment
	}
	fmt.Fprintf(buf, "%-80.80s", card)
}

func pad(buf *bytes.Buffer, fill byte) {
	if r := buf.Len() % fitsBlock; r != 0 {
		buf.Write(bytes.Repeat([]byte{fill}, fitsBlock-r))
	}
}

// makeFITS renders a 16 bit monochrome FITS image with a gradient pattern.
func makeFITS(info frameInfo) []byte {
	var buf bytes.Buffer

	fitsCard(&buf, "SIMPLE", "T", "file conforms to FITS standard")
	fitsCard(&buf, "BITPIX", "16", "number of bits per data pixel")
	fitsCard(&buf, "NAXIS", "2", "number of data axes")
	fitsCard(&buf, "NAXIS1", fmt.Sprint(info.Width), "length of data axis 1")
	fitsCard(&buf, "NAXIS2", fmt.Sprint(info.Height), "length of data axis 2")
	fitsCard(&buf, "BZERO", "32768", "offset data range to that of unsigned short")
	fitsCard(&buf, "BSCALE", "1", "default scaling factor")
	fitsCard(&buf, "EXPTIME", fmt.Sprintf("%g", info.Exposure), "Total Exposure Time (s)")
	fitsCard(&buf, "GAIN", fmt.Sprintf("%g", info.Gain), "Gain")
	fitsCard(&buf, "OFFSET", fmt.Sprintf("%g", info.Offset), "Offset")
	fitsCard(&buf, "CCD-TEMP", fmt.Sprintf("%g", info.Temperature), "CCD Temperature (Celsius)")
	fitsCard(&buf, "INSTRUME", "'"+DefaultDevice+"'", "CCD Name")
	fitsCard(&buf, "DATE-OBS", "'"+info.Date.UTC().Format("2006-01-02T15:04:05.000")+"'", "UTC start date of observation")
	fmt.Fprintf(&buf, "%-80s", "END")
	pad(&buf, ' ')

	px := make([]byte, 2)
	for y := 0; y < info.Height; y++ {
		for x := 0; x < info.Width; x++ {
			v := uint16(info.Offset) + uint16((x+y)*64)
			binary.BigEndian.PutUint16(px, v-32768)
			buf.Write(px)
		}
	}
	pad(&buf, 0)

	return buf.Bytes()
}
