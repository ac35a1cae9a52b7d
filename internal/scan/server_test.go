package scan

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"regexp"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zombor/copescan/internal/rewards"
)

// uploadRequest builds a multipart request with a single file part
func uploadRequest(url, filename, contentType string, data []byte) *http.Request {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := writer.CreatePart(header)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(writer.Close()).To(Succeed())

	req, err := http.NewRequest(http.MethodPost, url, body)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decodeScan(resp *http.Response) *Scan {
	defer resp.Body.Close()
	var scan Scan
	Expect(json.NewDecoder(resp.Body).Decode(&scan)).To(Succeed())
	return &scan
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		extractor   *mockExtractor
		submitter   *mockSubmitter
		registry    *prometheus.Registry
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		extractor = &mockExtractor{text: "XK9F2QFOOBAR"}
		submitter = newMockSubmitter()
		registry = prometheus.NewRegistry()
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		service := NewServiceWithDeps(db, storage, extractor, submitter,
			&mockIDGenerator{id: "scan-1"}, &mockTimeSource{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)})
		service.UseMetrics(NewMetrics(registry))
		server := NewServerWithMux(service, auth, registry, http.NewServeMux())

		ghttpServer = ghttp.NewServer()
		anyPath := regexp.MustCompile(".*")
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions} {
			ghttpServer.RouteToHandler(method, anyPath, server.ServeHTTP)
		}
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	post := func(path, contentType string, body io.Reader) *http.Response {
		resp, err := http.Post(ghttpServer.URL()+path, contentType, body)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	Describe("POST /api/scans", func() {
		When("the photo has a code", func() {
			It("creates a pending scan", func() {
				resp, err := http.DefaultClient.Do(uploadRequest(ghttpServer.URL()+"/api/scans", "wrapper.png", "image/png", wrapperPNG()))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				scan := decodeScan(resp)
				Expect(scan.ID).To(Equal("scan-1"))
				Expect(scan.Status).To(Equal(StatusPending))
				Expect(scan.Code).To(Equal("XK9F2QFOOBAR"))
				Expect(submitter.codes).To(BeEmpty())
			})
		})

		When("the part has no content type", func() {
			It("uses the file extension", func() {
				resp, err := http.DefaultClient.Do(uploadRequest(ghttpServer.URL()+"/api/scans", "wrapper.png", "", wrapperPNG()))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				Expect(decodeScan(resp).ContentType).To(Equal("image/png"))
			})
		})

		When("the photo has no code", func() {
			BeforeEach(func() {
				extractor.text = "?? ab"
			})

			It("creates a no_code scan", func() {
				resp, err := http.DefaultClient.Do(uploadRequest(ghttpServer.URL()+"/api/scans", "wrapper.png", "image/png", wrapperPNG()))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				Expect(decodeScan(resp).Status).To(Equal(StatusNoCode))
			})
		})

		When("the file is not an image", func() {
			It("returns bad request", func() {
				resp, err := http.DefaultClient.Do(uploadRequest(ghttpServer.URL()+"/api/scans", "notes.txt", "text/plain", []byte("hello")))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("the recognizer is unavailable", func() {
			BeforeEach(func() {
				extractor.err = errors.New("ollama API error (status 503)")
			})

			It("returns bad gateway", func() {
				resp, err := http.DefaultClient.Do(uploadRequest(ghttpServer.URL()+"/api/scans", "wrapper.png", "image/png", wrapperPNG()))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
			})
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.saveErr = errors.New("disk full")
			})

			It("returns internal server error without the cause", func() {
				resp, err := http.DefaultClient.Do(uploadRequest(ghttpServer.URL()+"/api/scans", "wrapper.png", "image/png", wrapperPNG()))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).NotTo(ContainSubstring("disk full"))
			})
		})

		When("no file is sent", func() {
			It("returns bad request", func() {
				resp := post("/api/scans", "application/x-www-form-urlencoded", strings.NewReader("a=b"))
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("POST /api/scans/{id}/confirm", func() {
		BeforeEach(func() {
			db.scans["scan-1"] = &Scan{ID: "scan-1", Code: "XK9F2QFOOBAR", Status: StatusPending}
		})

		It("submits the code and returns the outcome", func() {
			resp := post("/api/scans/scan-1/confirm", "application/json", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			scan := decodeScan(resp)
			Expect(scan.Status).To(Equal(StatusAccepted))
			Expect(submitter.codes).To(Equal([]string{"XK9F2QFOOBAR"}))
		})

		It("returns conflict on a second confirmation", func() {
			resp := post("/api/scans/scan-1/confirm", "application/json", nil)
			resp.Body.Close()

			resp = post("/api/scans/scan-1/confirm", "application/json", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			Expect(submitter.codes).To(HaveLen(1))
		})

		When("the scan does not exist", func() {
			It("returns not found", func() {
				resp := post("/api/scans/missing/confirm", "application/json", nil)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})

		When("the site rejects the code", func() {
			BeforeEach(func() {
				submitter.status = rewards.Rejected
				submitter.statusCode = 403
			})

			It("still returns OK with the rejection recorded", func() {
				resp := post("/api/scans/scan-1/confirm", "application/json", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				scan := decodeScan(resp)
				Expect(scan.Status).To(Equal(StatusRejected))
				Expect(scan.Reason).To(Equal("403"))
			})
		})
	})

	Describe("POST /api/scans/{id}/decline", func() {
		BeforeEach(func() {
			db.scans["scan-1"] = &Scan{ID: "scan-1", Code: "XK9F2QFOOBAR", Status: StatusPending}
		})

		It("declines without submitting", func() {
			resp := post("/api/scans/scan-1/decline", "application/json", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decodeScan(resp).Status).To(Equal(StatusDeclined))
			Expect(submitter.codes).To(BeEmpty())
		})

		It("returns conflict when already declined", func() {
			post("/api/scans/scan-1/decline", "application/json", nil).Body.Close()
			resp := post("/api/scans/scan-1/decline", "application/json", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})
	})

	Describe("POST /api/codes", func() {
		It("submits a typed code", func() {
			resp := post("/api/codes", "application/json", strings.NewReader(`{"code":" xk9f2q "}`))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			scan := decodeScan(resp)
			Expect(scan.Source).To(Equal(SourceManual))
			Expect(submitter.codes).To(Equal([]string{"XK9F2Q"}))
		})

		It("rejects an invalid code", func() {
			resp := post("/api/codes", "application/json", strings.NewReader(`{"code":"ab-12"}`))
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(submitter.codes).To(BeEmpty())
		})

		It("rejects a malformed body", func() {
			resp := post("/api/codes", "application/json", strings.NewReader(`{`))
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /api/scans", func() {
		BeforeEach(func() {
			db.scans["a"] = &Scan{ID: "a", Status: StatusAccepted}
			db.scans["b"] = &Scan{ID: "b", Status: StatusNoCode}
		})

		It("lists the history", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/scans")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var scans []*Scan
			Expect(json.NewDecoder(resp.Body).Decode(&scans)).To(Succeed())
			Expect(scans).To(HaveLen(2))
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.listErr = io.ErrUnexpectedEOF
			})

			It("returns internal server error", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/scans")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			})
		})
	})

	Describe("GET /api/scans/{id}", func() {
		It("returns not found for an unknown scan", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/scans/missing")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /api/scans/{id}/image", func() {
		BeforeEach(func() {
			db.scans["scan-1"] = &Scan{ID: "scan-1", Filename: "scan-1_wrapper.png", ContentType: "image/png"}
			storage.files["scan-1_wrapper.png"] = []byte("png bytes")
		})

		It("returns the stored image", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/scans/scan-1/image")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal("png bytes"))
		})
	})

	Describe("DELETE /api/scans/{id}", func() {
		BeforeEach(func() {
			db.scans["scan-1"] = &Scan{ID: "scan-1", Filename: "scan-1_wrapper.png"}
			storage.files["scan-1_wrapper.png"] = []byte("png bytes")
		})

		It("deletes the scan and its image", func() {
			req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/scans/scan-1", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.scans).NotTo(HaveKey("scan-1"))
			Expect(storage.files).To(BeEmpty())
		})
	})

	Describe("GET /metrics", func() {
		BeforeEach(func() {
			db.scans["scan-1"] = &Scan{ID: "scan-1", Code: "XK9F2QFOOBAR", Status: StatusPending}
		})

		It("exposes submission counts", func() {
			post("/api/scans/scan-1/confirm", "application/json", nil).Body.Close()

			resp, err := http.Get(ghttpServer.URL() + "/metrics")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring(`copescan_submissions_total{status="accepted"} 1`))
		})
	})

	Describe("GET /healthz", func() {
		It("returns ok", func() {
			resp, err := http.Get(ghttpServer.URL() + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("CORS", func() {
		It("answers preflight requests", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/api/scans", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "me", Password: "secret"}
		})

		It("rejects requests without credentials", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/scans")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("copescan"))
		})

		It("rejects wrong credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/scans", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("me:wrong")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("accepts the configured credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/scans", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("me", "secret")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("leaves the health check open", func() {
			resp, err := http.Get(ghttpServer.URL() + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})
})

var _ = Describe("detectContentType", func() {
	DescribeTable("content types",
		func(declared, filename, expected string) {
			Expect(detectContentType(declared, filename)).To(Equal(expected))
		},
		Entry("declared type wins", "image/jpeg", "a.png", "image/jpeg"),
		Entry("octet-stream falls back to the extension", "application/octet-stream", "a.HEIC", "image/heic"),
		Entry("missing type uses the extension", "", "scan.pdf", "application/pdf"),
		Entry("unknown extension", "", "scan.bin", "application/octet-stream"),
	)
})
