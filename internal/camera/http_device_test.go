package camera

import (
	"bytes"
	"context"
	"image/png"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("HTTPSnapshotDevice", func() {
	var (
		camServer  *ghttp.Server
		device     *HTTPSnapshotDevice
		controller *Controller
		ctx        context.Context
		snapshot   []byte
	)

	BeforeEach(func() {
		ctx = context.Background()
		camServer = ghttp.NewServer()
		device = NewHTTPSnapshotDeviceWithClient(camServer.URL()+"/capture", http.DefaultClient)
		controller = NewController(device)

		var buf bytes.Buffer
		Expect(png.Encode(&buf, testFrame())).To(Succeed())
		snapshot = buf.Bytes()
	})

	AfterEach(func() {
		camServer.Close()
	})

	When("the camera serves snapshots", func() {
		BeforeEach(func() {
			camServer.RouteToHandler(http.MethodGet, "/capture", ghttp.RespondWith(http.StatusOK, snapshot, http.Header{
				"Content-Type": []string{"image/png"},
			}))
		})

		It("streams and captures a JPEG", func() {
			Expect(controller.Activate(ctx)).To(Succeed())
			data, err := controller.Capture()
			Expect(err).NotTo(HaveOccurred())
			Expect(data[:2]).To(Equal([]byte{0xFF, 0xD8}))
		})

		It("stops fetching after deactivation", func() {
			Expect(controller.Activate(ctx)).To(Succeed())
			controller.Deactivate()
			_, err := controller.Capture()
			Expect(err).To(MatchError(ErrCapture))
		})
	})

	When("the camera rejects the credentials", func() {
		BeforeEach(func() {
			camServer.RouteToHandler(http.MethodGet, "/capture", ghttp.RespondWith(http.StatusUnauthorized, ""))
		})

		It("reports permission denied with device-specific remediation", func() {
			err := controller.Activate(ctx)
			Expect(err).To(MatchError(ErrPermissionDenied))
			Expect(err.Error()).To(ContainSubstring(camServer.URL()))
		})
	})

	When("the camera returns something that is not an image", func() {
		BeforeEach(func() {
			camServer.RouteToHandler(http.MethodGet, "/capture", ghttp.RespondWith(http.StatusOK, "hello"))
		})

		It("reports a device error", func() {
			Expect(controller.Activate(ctx)).To(MatchError(ErrDevice))
		})
	})

	When("the camera is offline", func() {
		BeforeEach(func() {
			camServer.Close()
		})

		It("reports a device error", func() {
			Expect(controller.Activate(ctx)).To(MatchError(ErrDevice))
			Expect(controller.State()).To(Equal(StateError))
		})
	})
})
