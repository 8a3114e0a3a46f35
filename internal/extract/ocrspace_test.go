package extract

import (
	"context"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

// ocrReply writes an OCR.space style JSON envelope.
func ocrReply(exitCode int, parsedText string) http.HandlerFunc {
	body := map[string]any{
		"OCRExitCode": exitCode,
		"ParsedResults": []map[string]string{
			{"ParsedText": parsedText},
		},
	}
	if parsedText == "" {
		body["ParsedResults"] = []map[string]string{}
	}
	return ghttp.RespondWithJSONEncoded(http.StatusOK, body)
}

// verifyEngine asserts which engine selector, if any, the request carried.
func verifyEngine(expected string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		Expect(r.ParseMultipartForm(32 << 20)).To(Succeed())
		Expect(r.FormValue("OCREngine")).To(Equal(expected))
		Expect(r.FormValue("apikey")).To(Equal("test-key"))
		Expect(r.FormValue("istable")).To(Equal("true"))
	}
}

var _ = Describe("OCRSpace", func() {
	var (
		server    *ghttp.Server
		extractor *OCRSpace
		fields    *Fields
		err       error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		extractor, err = NewOCRSpace(server.URL(), "test-key")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("NewOCRSpace", func() {
		It("rejects an empty API key", func() {
			_, err := NewOCRSpace("", "")
			Expect(err).To(MatchError(ErrCredentialMissing))
		})
	})

	Describe("Extract", func() {
		// PNG content type passes through without re-encoding, so the
		// payload does not need to be a real image.
		imageData := []byte("png bytes")

		JustBeforeEach(func() {
			fields, err = extractor.Extract(context.Background(), imageData, "image/png")
		})

		When("the first engine succeeds", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest("POST", "/"),
					verifyEngine(""),
					ocrReply(1, "Total 123.45\n12/05/2023"),
				))
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("returns the parsed fields", func() {
				Expect(fields.Amount.String()).To(Equal("123.45"))
				Expect(fields.Date).To(Equal(Date{Day: 12, Month: 5, Year: 2023}))
			})

			It("does not try further variants", func() {
				Expect(server.ReceivedRequests()).To(HaveLen(1))
			})
		})

		When("the first two engines fail and the third succeeds", func() {
			BeforeEach(func() {
				server.AppendHandlers(
					ghttp.CombineHandlers(verifyEngine(""), ocrReply(3, "")),
					ghttp.CombineHandlers(verifyEngine("2"), ocrReply(3, "")),
					ghttp.CombineHandlers(verifyEngine("3"), ocrReply(1, "Amount 50.00\n1 Jan 2018")),
				)
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("returns the third engine's result", func() {
				Expect(fields.Amount.String()).To(Equal("50.00"))
				Expect(fields.Date).To(Equal(Date{Day: 1, Month: 1, Year: 2018}))
			})

			It("escalated through all three variants in order", func() {
				Expect(server.ReceivedRequests()).To(HaveLen(3))
			})
		})

		When("every engine variant fails", func() {
			BeforeEach(func() {
				server.AppendHandlers(
					ocrReply(3, ""),
					ocrReply(4, ""),
					ocrReply(6, ""),
				)
			})

			It("returns ErrExtractionFailed rather than defaulted fields", func() {
				Expect(err).To(MatchError(ErrExtractionFailed))
				Expect(fields).To(BeNil())
			})
		})

		When("the service is unreachable for some attempts", func() {
			BeforeEach(func() {
				server.AppendHandlers(
					ghttp.RespondWith(http.StatusInternalServerError, "boom"),
					ocrReply(1, "total 7.50\n02-02-2022"),
				)
			})

			It("treats the failed attempt as a variant failure and moves on", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(fields.Amount.String()).To(Equal("7.50"))
			})
		})

		When("the engine succeeds but no text matches", func() {
			BeforeEach(func() {
				server.AppendHandlers(ocrReply(1, "unreadable scribbles"))
			})

			It("reports explicit not-found fields instead of zeros", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(fields.AmountFound).To(BeFalse())
				Expect(fields.DateFound).To(BeFalse())
			})
		})
	})
})
