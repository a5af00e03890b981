package objdet

import (
	"bytes"
	"image"
	// Registered formats for image.Decode
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// ImageDecoder decodes GIF, JPEG and PNG frames
type ImageDecoder struct{}

// Decode implements FrameDecoder. Errors wrap ErrFrameDecode.
func (ImageDecoder) Decode(raw RawFrame) (image.Image, error) {
	if len(raw.Data) == 0 {
		return nil, wrapKind(ErrFrameDecode, nil, "empty frame")
	}
	img, _, err := image.Decode(bytes.NewReader(raw.Data))
	if err != nil {
		return nil, wrapKind(ErrFrameDecode, err, "Can't decode image")
	}
	return img, nil
}
