package solver

// extractSitekeyJS inspects the DOM for the challenge type and sitekey.
// Covers reCAPTCHA v2/v3 (element or iframe), hCaptcha, and Cloudflare
// Turnstile.
const extractSitekeyJS = `(() => {
    const result = {type: null, sitekey: null, action: null};

    // reCAPTCHA v2/v3
    const recap = document.querySelector('[data-sitekey]:not(.h-captcha):not(.cf-turnstile)');
    if (recap) {
        result.sitekey = recap.getAttribute('data-sitekey');
        result.type = recap.classList.contains('g-recaptcha') ? 'recaptcha_v2' : 'recaptcha';
        const action = recap.getAttribute('data-action');
        if (action) { result.action = action; result.type = 'recaptcha_v3'; }
        return result;
    }

    // reCAPTCHA v2 iframe
    const recapIframe = document.querySelector('iframe[src*="recaptcha"]');
    if (recapIframe) {
        const m = recapIframe.src.match(/[?&]k=([^&]+)/);
        if (m) { result.sitekey = m[1]; result.type = 'recaptcha_v2'; return result; }
    }

    // hCaptcha
    const hcap = document.querySelector('[data-sitekey]');
    if (hcap && (hcap.classList.contains('h-captcha') || document.querySelector('iframe[src*="hcaptcha"]'))) {
        result.sitekey = hcap.getAttribute('data-sitekey');
        result.type = 'hcaptcha';
        return result;
    }
    const hcapIframe = document.querySelector('iframe[src*="hcaptcha"]');
    if (hcapIframe) {
        const m = hcapIframe.src.match(/sitekey=([^&]+)/);
        if (m) { result.sitekey = m[1]; result.type = 'hcaptcha'; return result; }
    }

    // Cloudflare Turnstile
    const turnstile = document.querySelector('[data-sitekey].cf-turnstile') ||
                      document.querySelector('.cf-turnstile[data-sitekey]') ||
                      document.querySelector('div[data-sitekey]');
    if (turnstile && (document.querySelector('script[src*="turnstile"]') ||
                      document.querySelector('iframe[src*="challenges.cloudflare.com"]'))) {
        result.sitekey = turnstile.getAttribute('data-sitekey');
        result.type = 'turnstile';
        return result;
    }

    const cfIframe = document.querySelector('iframe[src*="challenges.cloudflare.com"]');
    if (cfIframe) {
        const m = cfIframe.src.match(/[?&]k=([^&]+)/);
        if (m) { result.sitekey = m[1]; result.type = 'turnstile'; return result; }
    }

    return result;
})()`

// injectTokenJS maps each challenge type to the script that places the
// solved token and fires any registered callbacks.
var injectTokenJS = map[string]string{
	"recaptcha_v2": `(token) => {
        const el = document.getElementById('g-recaptcha-response');
        if (el) { el.value = token; el.style.display = 'none'; }
        const ta = document.querySelector('textarea[name="g-recaptcha-response"]');
        if (ta) { ta.value = token; }
        if (typeof ___grecaptcha_cfg !== 'undefined') {
            const clients = ___grecaptcha_cfg.clients;
            if (clients) {
                for (const cid of Object.keys(clients)) {
                    const walk = (obj) => {
                        if (!obj || typeof obj !== 'object') return;
                        for (const key of Object.keys(obj)) {
                            if (typeof obj[key] === 'function' && key.length < 3) {
                                try { obj[key](token); } catch(e) {}
                            }
                            if (typeof obj[key] === 'object') walk(obj[key]);
                        }
                    };
                    walk(clients[cid]);
                }
            }
        }
    }`,
	"recaptcha_v3": `(token) => {
        const el = document.getElementById('g-recaptcha-response');
        if (el) el.value = token;
        const ta = document.querySelector('textarea[name="g-recaptcha-response"]');
        if (ta) ta.value = token;
    }`,
	"hcaptcha": `(token) => {
        const el = document.querySelector('[name="h-captcha-response"]') ||
                   document.querySelector('textarea[name="h-captcha-response"]');
        if (el) el.value = token;
        const g = document.querySelector('[name="g-recaptcha-response"]');
        if (g) g.value = token;
    }`,
	"turnstile": `(token) => {
        const input = document.querySelector('[name="cf-turnstile-response"]') ||
                      document.querySelector('input[name="cf-turnstile-response"]');
        if (input) input.value = token;
        if (window.turnstile && typeof window.turnstile._callbacks === 'object') {
            for (const cb of Object.values(window.turnstile._callbacks)) {
                if (typeof cb === 'function') try { cb(token); } catch(e) {}
            }
        }
    }`,
}
