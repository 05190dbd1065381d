package receipt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

// multipartBody builds an upload form; a nil part is left out
func multipartBody(parts map[string][]byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for field, data := range parts {
		if data == nil {
			continue
		}
		part, err := writer.CreateFormFile(field, field+".jpg")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
	}
	Expect(writer.Close()).To(Succeed())
	return body, writer.FormDataContentType()
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		extractor   *mockExtractor
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		extractor = newMockExtractor()
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		service = NewServiceWithDeps(extractor, db, storage, nil,
			&mockIDGenerator{id: "run-1"},
			&mockTimeSource{now: time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)})
		server = NewServerWithMux(service, auth, http.NewServeMux(), nil)
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	Describe("handleHealth", func() {
		It("should return status OK", func() {
			resp, err := http.Get(ghttpServer.URL() + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		When("authentication is configured", func() {
			BeforeEach(func() {
				auth = BasicAuth{Username: "admin", Password: "secret"}
			})

			It("does not require credentials", func() {
				resp, err := http.Get(ghttpServer.URL() + "/healthz")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			})
		})
	})

	Describe("handleExtract", func() {
		var (
			parts map[string][]byte
			resp  *http.Response
		)

		BeforeEach(func() {
			parts = map[string][]byte{
				"front": []byte("front photo"),
				"back":  []byte("back photo"),
			}
		})

		JustBeforeEach(func() {
			body, contentType := multipartBody(parts)
			var err error
			resp, err = http.Post(ghttpServer.URL()+"/api/extract", contentType, body)
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			resp.Body.Close()
		})

		When("extraction succeeds", func() {
			It("should return status OK", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
			})

			It("should return the record and an empty warning list", func() {
				var got map[string]any
				Expect(json.NewDecoder(resp.Body).Decode(&got)).To(Succeed())
				Expect(got["record"]).To(HaveKeyWithValue("name", "박다혜"))
				Expect(got["warnings"]).To(BeEmpty())
				Expect(got).To(HaveKey("warnings"))
			})

			It("infers the content type from the file name", func() {
				Expect(extractor.calls).To(HaveLen(1))
				Expect(extractor.calls[0].ContentType).To(Equal("image/jpeg"))
				Expect(extractor.calls[0].Data).To(Equal([]byte("front photo")))
			})
		})

		When("only a front image is uploaded", func() {
			BeforeEach(func() {
				parts["back"] = nil
			})

			It("should return status OK", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			})
		})

		When("the front image is missing", func() {
			BeforeEach(func() {
				parts["front"] = nil
			})

			It("should return status Bad Request", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				body, _ := io.ReadAll(resp.Body)
				Expect(string(body)).To(ContainSubstring("front image is required"))
			})
		})

		When("extraction fails", func() {
			BeforeEach(func() {
				extractor.errs["front.jpg"] = errors.New("model refused")
			})

			It("should return status Bad Gateway", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
				body, _ := io.ReadAll(resp.Body)
				Expect(string(body)).To(ContainSubstring("front-page extraction failed"))
			})
		})
	})

	Describe("handleExtract with a malformed body", func() {
		It("should return status Bad Request", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/extract", "text/plain", bytes.NewBufferString("nope"))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("handleListRuns", func() {
		When("runs exist", func() {
			BeforeEach(func() {
				db.runs["r1"] = &Run{ID: "r1"}
				db.runs["r2"] = &Run{ID: "r2"}
			})

			It("should return all runs", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/runs")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				var runs []*Run
				Expect(json.NewDecoder(resp.Body).Decode(&runs)).To(Succeed())
				Expect(runs).To(HaveLen(2))
			})
		})

		When("no runs exist", func() {
			It("should return an empty array", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/runs")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				body, _ := io.ReadAll(resp.Body)
				Expect(string(body)).To(MatchJSON("[]"))
			})
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.listRunsErr = errors.New("boom")
			})

			It("should return status Internal Server Error", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/runs")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			})
		})
	})

	Describe("handleGetRun", func() {
		When("the run exists", func() {
			BeforeEach(func() {
				db.runs["r1"] = &Run{ID: "r1", Succeeded: 3}
			})

			It("should return the run", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/runs/r1")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				var run Run
				Expect(json.NewDecoder(resp.Body).Decode(&run)).To(Succeed())
				Expect(run.Succeeded).To(Equal(3))
			})
		})

		When("the run does not exist", func() {
			It("should return status Not Found", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/runs/missing")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})
	})

	Describe("handleGetRunExport", func() {
		When("the export exists", func() {
			BeforeEach(func() {
				db.runs["r1"] = &Run{ID: "r1", Export: "receipts_20250314_0930.csv"}
				storage.files["receipts_20250314_0930.csv"] = []byte("\xef\xbb\xbfpaid_at,name,route,fare\n")
			})

			It("should return the CSV as an attachment", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/runs/r1/export")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("text/csv; charset=utf-8"))
				Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring("receipts_20250314_0930.csv"))
			})
		})

		When("the run does not exist", func() {
			It("should return status Not Found", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/runs/missing/export")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})
	})

	Describe("handleDeleteRun", func() {
		var resp *http.Response

		JustBeforeEach(func() {
			req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/runs/r1", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err = http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			resp.Body.Close()
		})

		When("the run exists", func() {
			BeforeEach(func() {
				db.runs["r1"] = &Run{ID: "r1", Export: "receipts_20250314_0930_r1.csv"}
				storage.files["receipts_20250314_0930_r1.csv"] = []byte("csv")
			})

			It("should return status No Content", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			})

			It("should remove the run and its export", func() {
				Expect(db.runs).NotTo(HaveKey("r1"))
				Expect(storage.files).NotTo(HaveKey("receipts_20250314_0930_r1.csv"))
			})
		})

		When("the run does not exist", func() {
			It("should return status Not Found", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.runs["r1"] = &Run{ID: "r1"}
				db.deleteRunErr = errors.New("disk full")
			})

			It("should return status Internal Server Error", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			})
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		When("no credentials are sent", func() {
			It("should return status Unauthorized", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/runs")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Taxi Receipts"))
			})
		})

		When("the right credentials are sent", func() {
			It("should return status OK", func() {
				req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/runs", nil)
				Expect(err).NotTo(HaveOccurred())
				req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:secret")))
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
			})
		})

		When("the wrong password is sent", func() {
			It("should return status Unauthorized", func() {
				req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/runs", nil)
				Expect(err).NotTo(HaveOccurred())
				req.SetBasicAuth("admin", "wrong")
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			})
		})
	})

	Describe("CORS", func() {
		It("answers preflight requests", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/api/extract", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("DELETE"))
		})
	})
})
