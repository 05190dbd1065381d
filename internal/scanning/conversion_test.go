package scanning

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	return img
}

func jpegBytes() []byte {
	var buf bytes.Buffer
	Expect(jpeg.Encode(&buf, testImage(), nil)).To(Succeed())
	return buf.Bytes()
}

func pngBytes() []byte {
	var buf bytes.Buffer
	Expect(png.Encode(&buf, testImage())).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("ContentTypeFromFilename", func() {
	DescribeTable("maps extensions case-insensitively",
		func(name, expected string) {
			Expect(ContentTypeFromFilename(name)).To(Equal(expected))
		},
		Entry("jpg", "001_front.jpg", "image/jpeg"),
		Entry("JPEG", "001_front.JPEG", "image/jpeg"),
		Entry("png", "a/b/002.png", "image/png"),
		Entry("heic", "IMG_0001.HEIC", "image/heic"),
		Entry("unknown", "notes.txt", "application/octet-stream"),
	)
})

var _ = Describe("isHEICFormat", func() {
	It("recognises the ftyp heic brand", func() {
		data := append([]byte{0, 0, 0, 24}, []byte("ftypheic0000")...)
		Expect(isHEICFormat(data)).To(BeTrue())
	})

	It("rejects short input", func() {
		Expect(isHEICFormat([]byte("ftyp"))).To(BeFalse())
	})

	It("rejects JPEG data", func() {
		Expect(isHEICFormat(jpegBytes())).To(BeFalse())
	})
})

var _ = Describe("prepareImage", func() {
	var (
		input       []byte
		contentType string
		output      []byte
		mimeType    string
		err         error
	)

	JustBeforeEach(func() {
		output, mimeType, err = prepareImage(input, contentType)
	})

	When("the image is a JPEG", func() {
		BeforeEach(func() {
			input = jpegBytes()
			contentType = "image/jpeg"
		})

		It("passes the bytes through unchanged", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(output).To(Equal(input))
			Expect(mimeType).To(Equal("image/jpeg"))
		})
	})

	When("a PNG is saved with a .jpg content type", func() {
		BeforeEach(func() {
			input = pngBytes()
			contentType = "image/jpeg"
		})

		It("reports the sniffed type", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(mimeType).To(Equal("image/png"))
		})
	})

	When("the image is a GIF", func() {
		BeforeEach(func() {
			var buf bytes.Buffer
			Expect(gif.Encode(&buf, testImage(), nil)).To(Succeed())
			input = buf.Bytes()
			contentType = "image/gif"
		})

		It("converts it to PNG", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(mimeType).To(Equal("image/png"))
			_, format, decodeErr := image.Decode(bytes.NewReader(output))
			Expect(decodeErr).NotTo(HaveOccurred())
			Expect(format).To(Equal("png"))
		})
	})

	When("the data is not an image", func() {
		BeforeEach(func() {
			input = []byte("definitely not an image")
			contentType = "image/jpeg"
		})

		It("returns the error", func() {
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("unsupported image format"))
		})
	})

	When("the data is empty", func() {
		BeforeEach(func() {
			input = nil
			contentType = "image/jpeg"
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(ContainSubstring("empty image data")))
		})
	})
})

var _ = Describe("dataURL", func() {
	It("prefixes the base64 payload with the MIME type", func() {
		Expect(dataURL([]byte("abc"), "image/png")).To(Equal("data:image/png;base64,YWJj"))
	})
})
